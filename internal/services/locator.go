package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/logging"
)

// Invoice ids issued by the provider are 13+ digits; anything below this
// threshold may also be one of our own row ids.
const maxInternalOrderID = 10_000_000

type orderLookup interface {
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*db.Order, error)
	GetByID(ctx context.Context, id int64) (*db.Order, error)
	SearchByPartialReference(ctx context.Context, reference string) (*db.Order, error)
}

// OrderLocator resolves a gateway invoice reference to an order with ordered
// fallback strategies: exact provider order id, internal row id for small
// numeric references, then a partial match for references mangled in transit.
type OrderLocator struct {
	store  orderLookup
	logger *slog.Logger
}

func NewOrderLocator(store orderLookup, logger *slog.Logger) *OrderLocator {
	return &OrderLocator{store: store, logger: logger}
}

func (l *OrderLocator) Locate(ctx context.Context, reference string) (*db.Order, error) {
	logger := logging.FromContext(ctx, l.logger)

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrOrderNotFound)
	}

	order, err := l.store.GetByProviderOrderID(ctx, reference)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up order by reference: %w", err)
	}

	if id, convErr := strconv.ParseInt(reference, 10, 64); convErr == nil && id > 0 && id < maxInternalOrderID {
		order, err = l.store.GetByID(ctx, id)
		if err == nil {
			logger.Info("order located by internal id", "reference", reference)
			return order, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up order by id: %w", err)
		}
	}

	order, err = l.store.SearchByPartialReference(ctx, reference)
	if err == nil {
		logger.Warn("order located by partial reference match",
			"reference", reference,
			"order_id", order.ID,
		)
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to search orders by reference: %w", err)
	}

	return nil, fmt.Errorf("%w: reference %s", ErrOrderNotFound, reference)
}
