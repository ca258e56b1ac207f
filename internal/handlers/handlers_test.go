package handlers

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/simshopapp/simshop/internal/cache"
	"github.com/simshopapp/simshop/internal/countries"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/esim"
	"github.com/simshopapp/simshop/internal/models"
	"github.com/simshopapp/simshop/internal/services"
)

const (
	testBaseURL    = "https://shop.example.com"
	testGatewayURL = "https://auth.robokassa.ru/Merchant/Index.aspx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func md5hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

type stubOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*db.Order
}

func newStubOrderStore(orders ...*db.Order) *stubOrderStore {
	s := &stubOrderStore{orders: make(map[int64]*db.Order), nextID: 1}
	for _, o := range orders {
		if o.ID >= s.nextID {
			s.nextID = o.ID + 1
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *stubOrderStore) clone(o *db.Order) *db.Order {
	cp := *o
	if o.Metadata != nil {
		cp.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *stubOrderStore) get(id int64) *db.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return s.clone(o)
	}
	return nil
}

func (s *stubOrderStore) Create(_ context.Context, order *db.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = time.Now()
	if order.ProviderOrderID == "" {
		order.ProviderOrderID = strconv.FormatInt(order.ID, 10)
	}
	s.orders[order.ID] = s.clone(order)
	return nil
}

func (s *stubOrderStore) GetByID(_ context.Context, id int64) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return s.clone(o), nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubOrderStore) GetByProviderOrderID(_ context.Context, ref string) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ProviderOrderID == ref {
			return s.clone(o), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubOrderStore) SearchByPartialReference(_ context.Context, ref string) (*db.Order, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubOrderStore) FindProfileByICCID(_ context.Context, iccid string) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ICCID == iccid && o.OrderType != db.OrderTypeTopup {
			return s.clone(o), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubOrderStore) MarkActive(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if o.Status != db.StatusPending && o.Status != db.StatusActive {
		return fmt.Errorf("order %d: %w", orderID, db.ErrInvalidStatusTransition)
	}
	o.Status = db.StatusActive
	if o.ActivatedAt.IsZero() {
		o.ActivatedAt = time.Now()
	}
	return nil
}

func (s *stubOrderStore) SaveArtifacts(_ context.Context, orderID int64, artifacts models.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	setIfNotEmpty := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIfNotEmpty(&o.ICCID, artifacts.ICCID)
	setIfNotEmpty(&o.ActivationCode, artifacts.ActivationCode)
	setIfNotEmpty(&o.LPA, artifacts.LPA)
	setIfNotEmpty(&o.QRCodeURL, artifacts.QRCodeURL)
	setIfNotEmpty(&o.InstallURL, artifacts.InstallURL)
	setIfNotEmpty(&o.PlanName, artifacts.PlanName)
	return nil
}

func (s *stubOrderStore) SetExpiry(_ context.Context, orderID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.ExpiresAt = expiresAt
	return nil
}

func (s *stubOrderStore) UpdateCountry(_ context.Context, orderID int64, code, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.CountryCode = code
	o.CountryName = name
	return nil
}

func (s *stubOrderStore) UpdateProviderOrderID(_ context.Context, orderID int64, providerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.ProviderOrderID = providerOrderID
	return nil
}

type stubCatalog struct {
	byID   map[int64]*db.Package
	bySlug map[string]*db.Package
}

func (c *stubCatalog) PackageByID(_ context.Context, id int64) (*db.Package, error) {
	if p, ok := c.byID[id]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

func (c *stubCatalog) PackageBySlug(_ context.Context, slug string) (*db.Package, error) {
	if p, ok := c.bySlug[slug]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

type stubProvisioner struct {
	mu         sync.Mutex
	orderCalls int
	result     *esim.ProvisionResult
	err        error
}

func (p *stubProvisioner) CreateOrder(_ context.Context, _ esim.OrderRequest) (*esim.ProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *stubProvisioner) CreateTopup(_ context.Context, _ esim.TopupRequest) (*esim.ProvisionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *stubProvisioner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderCalls
}

type stubSettings struct {
	settings *db.Settings
	err      error
}

func (s *stubSettings) Get(_ context.Context) (*db.Settings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.settings, nil
}

type fixture struct {
	handlers *Handlers
	store    *stubOrderStore
	prov     *stubProvisioner
}

func newFixture(t *testing.T, orders ...*db.Order) *fixture {
	t.Helper()

	store := newStubOrderStore(orders...)
	prov := &stubProvisioner{result: &esim.ProvisionResult{
		OrderID:        "20008888",
		PlanName:       "Turkey 5GB 30 Days",
		ICCID:          "8944500012345678901",
		ActivationCode: "ABC-123",
		LPA:            "LPA:1$rsp.example.com$ABC-123",
		QRCodeURL:      "https://cdn.example.com/qr/8944500012345678901.png",
	}}
	catalog := &stubCatalog{
		byID: map[int64]*db.Package{
			7: {ID: 7, Slug: "merhaba-7days-1gb", Title: "Turkey 5GB", Price: 500, Enabled: true, ValidityDays: 30, CountryCode: "TR", CountryName: "Turkey"},
		},
		bySlug: map[string]*db.Package{
			"merhaba-7days-1gb": {ID: 7, Slug: "merhaba-7days-1gb", Title: "Turkey 5GB", Price: 500, Enabled: true, ValidityDays: 30, CountryCode: "TR", CountryName: "Turkey"},
		},
	}
	settings := &stubSettings{settings: &db.Settings{
		MerchantLogin: "simshop",
		PassOne:       "pass-one",
		PassTwo:       "pass-two",
		Mode:          "live",
	}}

	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = cacheProvider.Close() })

	logger := testLogger()
	locator := services.NewOrderLocator(store, logger)
	resolver := services.NewLinkResolver(store, testBaseURL)
	fulfillment := services.NewFulfillmentService(store, catalog, prov, countries.Table{}, nil, resolver, logger)
	webhooks := services.NewWebhookService(settings, locator, fulfillment, resolver, cacheProvider, services.GatewayTestSecrets{}, logger)
	checkout := services.NewCheckoutService(store, catalog, settings, testGatewayURL, logger)

	return &fixture{
		handlers: &Handlers{
			webhooks: webhooks,
			checkout: checkout,
			logger:   logger,
		},
		store: store,
		prov:  prov,
	}
}

func pendingOrder1001() *db.Order {
	return &db.Order{
		ID:              1001,
		ProviderOrderID: "1001",
		CustomerEmail:   "traveler@example.com",
		PackageID:       7,
		PlanName:        "Turkey 5GB",
		Amount:          500,
		Currency:        "RUB",
		Status:          db.StatusPending,
		OrderType:       db.OrderTypePurchase,
		Metadata:        map[string]any{models.MetaPackageSlug: "merhaba-7days-1gb"},
	}
}
