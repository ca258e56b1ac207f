package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simshopapp/simshop/internal/cache"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/observability"
	"github.com/simshopapp/simshop/internal/robokassa"
)

// Processed webhooks are remembered long enough to outlive the gateway's
// retry window.
const webhookDedupTTL = 24 * time.Hour

type settingsSource interface {
	Get(ctx context.Context) (*db.Settings, error)
}

// GatewayTestSecrets are environment overrides used when the admin config is
// in test mode, so sandbox callbacks verify without touching stored secrets.
type GatewayTestSecrets struct {
	PassOne string
	PassTwo string
}

// WebhookService processes gateway callbacks end to end: verification,
// order lookup, activation, fulfillment.
type WebhookService struct {
	settings    settingsSource
	locator     *OrderLocator
	fulfillment *FulfillmentService
	resolver    *LinkResolver
	cache       cache.Provider
	testSecrets GatewayTestSecrets
	logger      *slog.Logger
}

func NewWebhookService(
	settings settingsSource,
	locator *OrderLocator,
	fulfillment *FulfillmentService,
	resolver *LinkResolver,
	cacheProvider cache.Provider,
	testSecrets GatewayTestSecrets,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		settings:    settings,
		locator:     locator,
		fulfillment: fulfillment,
		resolver:    resolver,
		cache:       cacheProvider,
		testSecrets: testSecrets,
		logger:      logger,
	}
}

func (s *WebhookService) secrets(ctx context.Context) (robokassa.Secrets, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return robokassa.Secrets{}, fmt.Errorf("failed to load gateway settings: %w", err)
	}

	secrets := robokassa.Secrets{
		MerchantLogin: settings.MerchantLogin,
		PassOne:       settings.PassOne,
		PassTwo:       settings.PassTwo,
	}
	if settings.TestMode() {
		if s.testSecrets.PassOne != "" {
			secrets.PassOne = s.testSecrets.PassOne
		}
		if s.testSecrets.PassTwo != "" {
			secrets.PassTwo = s.testSecrets.PassTwo
		}
	}
	return secrets, nil
}

// HandleResult processes a server-notification callback and returns the
// acknowledgement text the gateway expects. The gateway keys its retry logic
// off that exact text, so it is produced here and nowhere else.
func (s *WebhookService) HandleResult(ctx context.Context, cb robokassa.Callback) (string, error) {
	logger := logging.FromContext(ctx, s.logger)
	meter := observability.MeterFromContext(ctx)
	ack := "OK" + cb.InvID

	secrets, err := s.secrets(ctx)
	if err != nil {
		return "", err
	}
	if !robokassa.Verify(cb, robokassa.ChannelResult, secrets) {
		meter.Count("webhook.result.rejected", 1)
		return "", fmt.Errorf("%w: invoice %s", ErrVerificationFailed, cb.InvID)
	}
	meter.Count("webhook.result.verified", 1)

	dedupKey := cache.WebhookKey("result", cb.InvID)
	if s.cache != nil {
		if _, err := s.cache.Get(ctx, dedupKey); err == nil {
			logger.Info("duplicate webhook ignored", "invoice_id", cb.InvID)
			return ack, nil
		}
	}

	order, err := s.locator.Locate(ctx, cb.InvID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// Acknowledge anyway: retrying will never make the order
			// appear, and unacked webhooks retry for days.
			logger.Error("webhook for unknown order", "invoice_id", cb.InvID)
			return ack, nil
		}
		return "", err
	}

	if err := s.fulfillment.Activate(ctx, order); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			logger.Warn("webhook for terminal order ignored",
				"invoice_id", cb.InvID,
				"order_id", order.ID,
				"status", order.Status,
			)
			return ack, nil
		}
		// Persistence trouble: acknowledge to stop a retry storm, the
		// order is findable for operator follow-up.
		logger.Error("failed to activate order", "order_id", order.ID, "error", err)
		return ack, nil
	}

	if _, err := s.fulfillment.Fulfill(ctx, order, FulfillOptions{WaitForLock: true}); err != nil {
		// Payment confirmation stands; provisioning is re-driven by the
		// next webhook delivery or a status poll.
		logger.Error("fulfillment failed", "order_id", order.ID, "error", err)
		return ack, nil
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dedupKey, string(order.Status), webhookDedupTTL); err != nil {
			logger.Warn("failed to record webhook dedup key", "invoice_id", cb.InvID, "error", err)
		}
	}
	return ack, nil
}

// HandleSuccess processes the browser redirect and returns the destination
// URL. Verification failure or an unknown order falls back to the pending
// view without order parameters; the server channel is the source of truth
// and the redirect is only navigation.
func (s *WebhookService) HandleSuccess(ctx context.Context, cb robokassa.Callback) string {
	logger := logging.FromContext(ctx, s.logger)
	fallback := s.resolver.Resolve(ctx, nil)

	secrets, err := s.secrets(ctx)
	if err != nil {
		logger.Error("failed to load gateway settings for redirect", "error", err)
		return fallback
	}
	if !robokassa.Verify(cb, robokassa.ChannelSuccess, secrets) {
		logger.Warn("redirect with invalid signature", "invoice_id", cb.InvID)
		return fallback
	}

	order, err := s.locator.Locate(ctx, cb.InvID)
	if err != nil {
		logger.Warn("redirect for unknown order", "invoice_id", cb.InvID, "error", err)
		return fallback
	}

	// The redirect can outrun the server notification. Confirm payment here
	// too; fulfillment still happens on the webhook or poll path.
	if err := s.fulfillment.Activate(ctx, order); err != nil && !errors.Is(err, db.ErrInvalidStatusTransition) {
		logger.Error("failed to activate order on redirect", "order_id", order.ID, "error", err)
	}

	return s.resolver.Resolve(ctx, order)
}

// StatusResponse is the polling view of an order.
type StatusResponse struct {
	OrderID     int64  `json:"order_id"`
	Status      string `json:"status"`
	Provisioned bool   `json:"provisioned"`
	Processing  bool   `json:"processing"`
	RedirectURL string `json:"redirect_url"`
}

// HandleStatus serves interactive polling. An active unprovisioned order
// gets one fulfillment attempt per poll; lock contention reports
// "processing" immediately instead of waiting.
func (s *WebhookService) HandleStatus(ctx context.Context, orderID int64) (*StatusResponse, error) {
	logger := logging.FromContext(ctx, s.logger)

	order, err := s.locator.Locate(ctx, fmt.Sprintf("%d", orderID))
	if err != nil {
		return nil, err
	}

	status := &StatusResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
	}

	if order.Status == db.StatusActive && !order.Provisioned() {
		result, err := s.fulfillment.Fulfill(ctx, order, FulfillOptions{WaitForLock: false})
		switch {
		case errors.Is(err, ErrAlreadyProcessing):
			status.Processing = true
		case err != nil:
			// Interactive callers see fulfillment trouble, unlike the
			// webhook path.
			logger.Error("fulfillment failed on poll", "order_id", order.ID, "error", err)
			return nil, err
		default:
			order = result.Order
		}
	}

	status.Provisioned = order.Provisioned()
	status.RedirectURL = s.resolver.Resolve(ctx, order)
	return status, nil
}
