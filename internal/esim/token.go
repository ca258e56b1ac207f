package esim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/simshopapp/simshop/internal/observability"
)

// Auth exchanges client credentials for a bearer token at the provider's
// token endpoint and caches the result until shortly before expiry.
type Auth struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client

	mu     sync.RWMutex
	cached *oauth2.Token
}

func NewAuth(clientID, clientSecret, baseURL string) *Auth {
	return &Auth{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     strings.TrimRight(baseURL, "/") + "/token",
		httpClient:   observability.NewHTTPClient(30 * time.Second),
	}
}

type tokenPayload struct {
	Data struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"data"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a valid bearer token, reusing the cached one when it has at
// least five minutes of life left.
func (a *Auth) Token(ctx context.Context) (*oauth2.Token, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if a.clientID == "" || a.clientSecret == "" {
		return nil, fmt.Errorf("provider credentials are not configured")
	}

	a.mu.RLock()
	if t := a.cached; t != nil && time.Now().Before(t.Expiry.Add(-5*time.Minute)) {
		a.mu.RUnlock()
		return t, nil
	}
	a.mu.RUnlock()

	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	accessToken := payload.Data.AccessToken
	expiresIn := payload.Data.ExpiresIn
	if accessToken == "" {
		accessToken = payload.AccessToken
		expiresIn = payload.ExpiresIn
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token missing from response")
	}

	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      tokenExpiry(accessToken, expiresIn),
	}

	a.mu.Lock()
	a.cached = token
	a.mu.Unlock()

	return token, nil
}

// tokenExpiry prefers the exp claim embedded in the token itself over the
// advertised expires_in. The claim is read without verifying the signature:
// the token came to us over TLS from the issuer, and we only use the claim to
// schedule a refresh.
func tokenExpiry(accessToken string, expiresIn int64) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(55 * time.Minute)
}
