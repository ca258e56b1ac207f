package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simshopapp/simshop/internal/config"
	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

// Handlers provides the HTTP request handlers for the storefront backend.
type Handlers struct {
	config   *config.Config
	db       *pgxpool.Pool
	webhooks *services.WebhookService
	checkout *services.CheckoutService
	logger   *slog.Logger
}

type Dependencies struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	Webhooks *services.WebhookService
	Checkout *services.CheckoutService
	Logger   *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.Webhooks == nil {
		return nil, fmt.Errorf("handlers dependencies: webhook service is required")
	}
	if deps.Checkout == nil {
		return nil, fmt.Errorf("handlers dependencies: checkout service is required")
	}

	return &Handlers{
		config:   deps.Config,
		db:       deps.DB,
		webhooks: deps.Webhooks,
		checkout: deps.Checkout,
		logger:   logger,
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
