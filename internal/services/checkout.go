package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/models"
	"github.com/simshopapp/simshop/internal/robokassa"
)

// The gateway rejects sub-ruble amounts; anything below this is a
// misconfigured plan, not a real purchase.
const minCheckoutAmount = 1.0

type orderCreator interface {
	Create(ctx context.Context, order *db.Order) error
}

// CheckoutService creates a pending order and the signed gateway payment URL
// for it. The order exists before any callback so the webhook always has
// something to locate.
type CheckoutService struct {
	orders     orderCreator
	catalog    planCatalog
	settings   settingsSource
	gatewayURL string
	logger     *slog.Logger
}

func NewCheckoutService(orders orderCreator, catalog planCatalog, settings settingsSource, gatewayURL string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		orders:     orders,
		catalog:    catalog,
		settings:   settings,
		gatewayURL: gatewayURL,
		logger:     logger,
	}
}

// CheckoutInput describes a purchase or top-up being started.
type CheckoutInput struct {
	PackageSlug   string
	CustomerEmail string
	OrderType     db.OrderType
	ExistingICCID string
	Source        string
}

// Start creates the pending order and returns the gateway payment URL the
// customer should be sent to.
func (s *CheckoutService) Start(ctx context.Context, input CheckoutInput) (string, *db.Order, error) {
	logger := logging.FromContext(ctx, s.logger)

	input.CustomerEmail = strings.TrimSpace(input.CustomerEmail)
	if input.CustomerEmail == "" {
		return "", nil, fmt.Errorf("customer email is required")
	}
	if input.PackageSlug == "" {
		return "", nil, fmt.Errorf("package is required")
	}

	pkg, err := s.catalog.PackageBySlug(ctx, input.PackageSlug)
	if err != nil {
		return "", nil, fmt.Errorf("unknown package %q: %w", input.PackageSlug, err)
	}
	if !pkg.Enabled {
		return "", nil, fmt.Errorf("package %q is not available", input.PackageSlug)
	}
	if pkg.Price < minCheckoutAmount {
		return "", nil, fmt.Errorf("package %q has no valid price", input.PackageSlug)
	}

	orderType := input.OrderType
	if orderType == "" {
		orderType = db.OrderTypePurchase
	}
	if orderType == db.OrderTypeTopup && input.ExistingICCID == "" {
		return "", nil, fmt.Errorf("top-up requires the existing profile iccid")
	}

	metadata := map[string]any{
		models.MetaPackageSlug: pkg.Slug,
	}
	if input.ExistingICCID != "" {
		metadata[models.MetaExistingICCID] = input.ExistingICCID
	}
	if input.Source != "" {
		metadata[models.MetaSource] = input.Source
	}

	order := &db.Order{
		CustomerEmail: input.CustomerEmail,
		PackageID:     pkg.ID,
		PlanName:      pkg.Title,
		Amount:        pkg.Price,
		Currency:      "RUB",
		Status:        db.StatusPending,
		OrderType:     orderType,
		ICCID:         input.ExistingICCID,
		CountryCode:   pkg.CountryCode,
		CountryName:   pkg.CountryName,
		Metadata:      metadata,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return "", nil, fmt.Errorf("failed to create order: %w", err)
	}

	paymentURL, err := s.paymentURL(ctx, order)
	if err != nil {
		return "", nil, err
	}

	logger.Info("checkout started",
		"order_id", order.ID,
		"package_slug", pkg.Slug,
		"order_type", string(orderType),
		"amount", order.Amount,
	)
	return paymentURL, order, nil
}

func (s *CheckoutService) paymentURL(ctx context.Context, order *db.Order) (string, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load gateway settings: %w", err)
	}
	if settings.MerchantLogin == "" || settings.PassOne == "" {
		return "", fmt.Errorf("gateway credentials are not configured")
	}

	outSum := strconv.FormatFloat(order.Amount, 'f', 2, 64)
	invID := order.ProviderOrderID

	params := url.Values{}
	params.Set("MerchantLogin", settings.MerchantLogin)
	params.Set("OutSum", outSum)
	params.Set("InvId", invID)
	params.Set("Description", order.PlanName)
	params.Set("Email", order.CustomerEmail)
	params.Set("SignatureValue", robokassa.SignPayment(settings.MerchantLogin, outSum, invID, settings.PassOne))
	if settings.TestMode() {
		params.Set("IsTest", "1")
	}

	return s.gatewayURL + "?" + params.Encode(), nil
}
