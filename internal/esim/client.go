// Package esim provides the client for the eSIM partner provisioning API.
package esim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/observability"
)

// APIError is a non-success response from the partner API. Timeouts and
// non-2xx statuses both abort the attempt; the caller decides whether the
// order state needs attention.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API returned status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	auth    *Auth
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(auth *Auth, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		auth:    auth,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// OrderRequest creates a new profile. PackageSlug is the provider's package
// identifier, not our internal numeric id.
type OrderRequest struct {
	PackageSlug string
	Quantity    int
	ToEmail     string
}

// TopupRequest extends an existing profile identified by its ICCID.
type TopupRequest struct {
	ICCID       string
	PackageSlug string
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*ProvisionResult, error) {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	form := url.Values{
		"quantity":   {strconv.Itoa(quantity)},
		"package_id": {req.PackageSlug},
		"type":       {"sim"},
		"to_email":   {req.ToEmail},
	}
	form.Add("sharing_option[]", "link")

	body, err := c.post(ctx, "/orders", form)
	if err != nil {
		return nil, err
	}

	result, err := ParseProvision(body)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, c.logger).Info("provider order created",
		"provider_order_id", result.OrderID,
		"package_slug", req.PackageSlug,
	)
	return result, nil
}

func (c *Client) CreateTopup(ctx context.Context, req TopupRequest) (*ProvisionResult, error) {
	form := url.Values{
		"iccid":      {req.ICCID},
		"package_id": {req.PackageSlug},
	}

	body, err := c.post(ctx, "/orders/topups", form)
	if err != nil {
		return nil, err
	}

	// Topup responses carry the order envelope but no new profile: the
	// existing ICCID stays authoritative.
	result, err := ParseProvision(body)
	if err != nil {
		result = &ProvisionResult{}
	}
	if result.ICCID == "" {
		result.ICCID = req.ICCID
	}
	logging.FromContext(ctx, c.logger).Info("provider topup created",
		"provider_order_id", result.OrderID,
		"iccid", req.ICCID,
		"package_slug", req.PackageSlug,
	)
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with provider: %w", err)
	}

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, observability.NewHTTPClient(c.timeout))
	client := oauth2.NewClient(httpCtx, oauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
