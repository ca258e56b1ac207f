package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/jackc/pgx/v5"

	"github.com/simshopapp/simshop/internal/countries"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/esim"
	"github.com/simshopapp/simshop/internal/logging"
	"github.com/simshopapp/simshop/internal/models"
	"github.com/simshopapp/simshop/internal/observability"
)

type orderStore interface {
	orderLookup
	profileLookup
	MarkActive(ctx context.Context, orderID int64) error
	SaveArtifacts(ctx context.Context, orderID int64, artifacts models.Artifacts) error
	SetExpiry(ctx context.Context, orderID int64, expiresAt time.Time) error
	UpdateCountry(ctx context.Context, orderID int64, code, name string) error
	UpdateProviderOrderID(ctx context.Context, orderID int64, providerOrderID string) error
}

type provisioner interface {
	CreateOrder(ctx context.Context, req esim.OrderRequest) (*esim.ProvisionResult, error)
	CreateTopup(ctx context.Context, req esim.TopupRequest) (*esim.ProvisionResult, error)
}

type planCatalog interface {
	PackageByID(ctx context.Context, id int64) (*db.Package, error)
	PackageBySlug(ctx context.Context, slug string) (*db.Package, error)
}

// FulfillmentService drives an order from payment confirmation to a
// delivered profile: state transition, one guarded provisioning call,
// artifact persistence, country resolution, customer notification.
type FulfillmentService struct {
	orders      orderStore
	catalog     planCatalog
	provisioner provisioner
	countries   countries.Table
	notifier    Notifier
	resolver    *LinkResolver
	locks       *fulfillmentLocks
	logger      *slog.Logger
}

func NewFulfillmentService(
	orders orderStore,
	catalog planCatalog,
	prov provisioner,
	countryTable countries.Table,
	notifier Notifier,
	resolver *LinkResolver,
	logger *slog.Logger,
) *FulfillmentService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &FulfillmentService{
		orders:      orders,
		catalog:     catalog,
		provisioner: prov,
		countries:   countryTable,
		notifier:    notifier,
		resolver:    resolver,
		locks:       newFulfillmentLocks(),
		logger:      logger,
	}
}

func (s *FulfillmentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Activate confirms payment on the order. Activation is unconditional on a
// verified callback and decoupled from provisioning: a provider outage must
// not make a paid order look unpaid.
func (s *FulfillmentService) Activate(ctx context.Context, order *db.Order) error {
	if order.Status == db.StatusActive {
		return nil
	}
	if err := s.orders.MarkActive(ctx, order.ID); err != nil {
		return err
	}
	order.Status = db.StatusActive
	observability.MeterFromContext(ctx).Count("fulfillment.order.activated", 1)
	return nil
}

// FulfillResult reports what a fulfillment attempt did.
type FulfillResult struct {
	Order *db.Order
	// AlreadyProvisioned means the completion check short-circuited: the
	// order carried artifacts before this attempt and no provider call was
	// made.
	AlreadyProvisioned bool
}

// FulfillOptions selects the caller's contention behavior. The webhook path
// waits once and retries; interactive polling reports contention immediately.
type FulfillOptions struct {
	WaitForLock bool
}

// Fulfill provisions an active order. At most one provider call is made per
// attempt; duplicate invocations either short-circuit on existing artifacts
// or contend on the per-(invoice, package) lock.
func (s *FulfillmentService) Fulfill(ctx context.Context, order *db.Order, opts FulfillOptions) (*FulfillResult, error) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if order.OrderType == db.OrderTypeOther {
		// Different product line, handled by a separate workflow.
		return &FulfillResult{Order: order}, nil
	}

	if order.Provisioned() {
		meter.Count("fulfillment.order.short_circuit", 1)
		return &FulfillResult{Order: order, AlreadyProvisioned: true}, nil
	}

	key := lockKey(order.ProviderOrderID, s.packageRef(order))
	acquired := s.locks.TryAcquire(key)
	if !acquired {
		if !opts.WaitForLock {
			return nil, ErrAlreadyProcessing
		}
		// The holder is usually another delivery of the same webhook and
		// finishes quickly. Wait once, recheck completion, then continue
		// either way so a stuck holder cannot strand the order.
		logger.Info("fulfillment lock held, waiting", "order_id", order.ID)
		select {
		case <-time.After(lockWaitDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	defer func() {
		if acquired {
			s.locks.Release(key)
		}
	}()

	// Recheck completion on a fresh read: another attempt may have finished
	// between our first check and here.
	if fresh, err := s.orders.GetByID(ctx, order.ID); err == nil {
		order = fresh
		if order.Provisioned() {
			meter.Count("fulfillment.order.short_circuit", 1)
			return &FulfillResult{Order: order, AlreadyProvisioned: true}, nil
		}
	}

	var err error
	switch order.OrderType {
	case db.OrderTypeTopup:
		err = s.fulfillTopup(ctx, order)
	default:
		err = s.fulfillPurchase(ctx, order)
	}
	if err != nil {
		meter.Count("fulfillment.order.failed", 1, sentry.WithAttributes(
			attribute.String("order_type", string(order.OrderType)),
		))
		return nil, err
	}

	if fresh, refreshErr := s.orders.GetByID(ctx, order.ID); refreshErr == nil {
		order = fresh
	}
	meter.Count("fulfillment.order.provisioned", 1, sentry.WithAttributes(
		attribute.String("order_type", string(order.OrderType)),
	))

	s.notify(ctx, order)
	return &FulfillResult{Order: order}, nil
}

func (s *FulfillmentService) fulfillPurchase(ctx context.Context, order *db.Order) error {
	logger := s.loggerFromContext(ctx)

	slug := s.resolveSlug(ctx, order)
	if slug == "" {
		return fmt.Errorf("%w: no package reference on order %d", ErrProvisioningFailed, order.ID)
	}

	result, err := s.provisioner.CreateOrder(ctx, esim.OrderRequest{
		PackageSlug: slug,
		Quantity:    1,
		ToEmail:     order.CustomerEmail,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	if err := s.orders.SaveArtifacts(ctx, order.ID, models.Artifacts{
		ICCID:          result.ICCID,
		ActivationCode: result.ActivationCode,
		LPA:            result.LPA,
		QRCodeURL:      result.QRCodeURL,
		InstallURL:     result.InstallURL,
		PlanName:       result.PlanName,
	}); err != nil {
		return fmt.Errorf("failed to persist artifacts for order %d: %w", order.ID, err)
	}

	// A self-issued invoice is replaced by the provider's order id so later
	// webhooks and lookups converge on one reference.
	if result.OrderID != "" && order.ProviderOrderID == strconv.FormatInt(order.ID, 10) {
		if err := s.orders.UpdateProviderOrderID(ctx, order.ID, result.OrderID); err != nil {
			logger.Error("failed to update provider order id", "order_id", order.ID, "error", err)
		}
	}

	s.resolveCountry(ctx, order, slug)
	return nil
}

func (s *FulfillmentService) fulfillTopup(ctx context.Context, order *db.Order) error {
	logger := s.loggerFromContext(ctx)

	profile, err := s.locateProfile(ctx, order)
	if err != nil {
		return err
	}

	slug := s.resolveSlug(ctx, order)
	if slug == "" {
		return fmt.Errorf("%w: no package reference on top-up order %d", ErrProvisioningFailed, order.ID)
	}

	if _, err := s.provisioner.CreateTopup(ctx, esim.TopupRequest{
		ICCID:       profile.ICCID,
		PackageSlug: slug,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	// The profile already exists; only the ICCID is recorded on the top-up
	// order, activation payload fields stay untouched.
	if err := s.orders.SaveArtifacts(ctx, order.ID, models.Artifacts{ICCID: profile.ICCID}); err != nil {
		return fmt.Errorf("failed to record top-up iccid for order %d: %w", order.ID, err)
	}

	if validityDays := s.validityDays(ctx, order, slug); validityDays > 0 {
		base := profile.ExpiresAt
		if base.IsZero() {
			base = time.Now()
		}
		newExpiry := base.AddDate(0, 0, validityDays)
		if err := s.orders.SetExpiry(ctx, profile.ID, newExpiry); err != nil {
			return fmt.Errorf("failed to extend expiry for profile order %d: %w", profile.ID, err)
		}
		if err := s.orders.SetExpiry(ctx, order.ID, newExpiry); err != nil {
			logger.Error("failed to mirror expiry on top-up order", "order_id", order.ID, "error", err)
		}
	} else {
		logger.Warn("no validity found for top-up package, expiry unchanged",
			"order_id", order.ID,
			"package_slug", slug,
		)
	}
	return nil
}

// locateProfile finds the profile a top-up extends, by hardware id first and
// the originating order id second.
func (s *FulfillmentService) locateProfile(ctx context.Context, order *db.Order) (*db.Order, error) {
	if iccid := order.ExistingICCID(); iccid != "" {
		profile, err := s.orders.FindProfileByICCID(ctx, iccid)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up profile %s: %w", iccid, err)
		}
		// The ICCID was recorded but its originating order is gone. The
		// top-up can still proceed against the hardware id alone.
		return &db.Order{ICCID: iccid}, nil
	}

	if ref := order.MetaString(models.MetaOriginalOrderID); ref != "" {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			profile, err := s.orders.GetByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load original order %d: %w", id, err)
			}
			if profile.ICCID != "" {
				return profile, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: top-up order %d has no profile reference", ErrProvisioningFailed, order.ID)
}

// resolveSlug translates the order's product reference to the provider's
// package slug: checkout metadata, then the stored package relationship,
// then a catalog lookup of the literal value, then the literal itself.
func (s *FulfillmentService) resolveSlug(ctx context.Context, order *db.Order) string {
	logger := s.loggerFromContext(ctx)

	if slug := order.PackageSlug(); slug != "" {
		return slug
	}

	if order.PackageID != 0 {
		pkg, err := s.catalog.PackageByID(ctx, order.PackageID)
		if err == nil && pkg.Slug != "" {
			return pkg.Slug
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			logger.Error("catalog lookup by id failed", "package_id", order.PackageID, "error", err)
		}
	}

	if order.PlanName != "" {
		if pkg, err := s.catalog.PackageBySlug(ctx, order.PlanName); err == nil && pkg.Slug != "" {
			return pkg.Slug
		}
		// Last resort: the plan name may itself be a valid slug. The
		// provider rejects it upstream if not.
		logger.Warn("using literal plan name as package slug",
			"order_id", order.ID,
			"plan_name", order.PlanName,
		)
		return order.PlanName
	}
	return ""
}

// validityDays finds the purchased duration for a top-up.
func (s *FulfillmentService) validityDays(ctx context.Context, order *db.Order, slug string) int {
	if order.PackageID != 0 {
		if pkg, err := s.catalog.PackageByID(ctx, order.PackageID); err == nil && pkg.ValidityDays > 0 {
			return pkg.ValidityDays
		}
	}
	if pkg, err := s.catalog.PackageBySlug(ctx, slug); err == nil && pkg.ValidityDays > 0 {
		return pkg.ValidityDays
	}
	return 0
}

// resolveCountry fills in the cosmetic country label when checkout did not:
// explicit metadata, catalog join, catalog lookup by slug, operator table
// heuristic, then a loud default. Never fatal.
func (s *FulfillmentService) resolveCountry(ctx context.Context, order *db.Order, slug string) {
	logger := s.loggerFromContext(ctx)

	if order.CountryCode != "" {
		return
	}

	code := order.MetaString(models.MetaCountryCode)
	name := order.MetaString(models.MetaCountryName)

	if code == "" && order.PackageID != 0 {
		if pkg, err := s.catalog.PackageByID(ctx, order.PackageID); err == nil && pkg.CountryCode != "" {
			code, name = pkg.CountryCode, pkg.CountryName
		}
	}

	if code == "" && slug != "" {
		if pkg, err := s.catalog.PackageBySlug(ctx, slug); err == nil && pkg.CountryCode != "" {
			code, name = pkg.CountryCode, pkg.CountryName
		}
	}

	if code == "" {
		country, matched := s.countries.Resolve(slug)
		code, name = country.Code, country.Name
		if !matched {
			logger.Warn("country resolution fell through to default",
				"order_id", order.ID,
				"package_slug", slug,
				"default_code", code,
			)
		}
	}

	if err := s.orders.UpdateCountry(ctx, order.ID, code, name); err != nil {
		logger.Error("failed to persist country", "order_id", order.ID, "error", err)
	} else {
		order.CountryCode, order.CountryName = code, name
	}
}

// notify is fire-and-forget: a notification failure never fails fulfillment.
func (s *FulfillmentService) notify(ctx context.Context, order *db.Order) {
	logger := s.loggerFromContext(ctx)

	var err error
	switch {
	case order.OrderType == db.OrderTypeTopup:
		err = s.notifier.NotifyTopup(ctx, order)
	case order.Provisioned():
		link := ""
		if s.resolver != nil {
			link = s.resolver.Resolve(ctx, order)
		}
		err = s.notifier.NotifyActivation(ctx, order, link)
	default:
		link := ""
		if s.resolver != nil {
			link = s.resolver.Resolve(ctx, order)
		}
		err = s.notifier.NotifyPending(ctx, order, link)
	}
	if err != nil {
		logger.Error("customer notification failed", "order_id", order.ID, "error", err)
	}
}

func (s *FulfillmentService) packageRef(order *db.Order) string {
	if slug := order.PackageSlug(); slug != "" {
		return slug
	}
	if order.PackageID != 0 {
		return strconv.FormatInt(order.PackageID, 10)
	}
	return order.PlanName
}
