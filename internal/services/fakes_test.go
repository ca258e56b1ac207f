package services

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/esim"
	"github.com/simshopapp/simshop/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOrderStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*db.Order
}

func newFakeOrderStore(orders ...*db.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[int64]*db.Order), nextID: 1}
	for _, o := range orders {
		if o.ID >= s.nextID {
			s.nextID = o.ID + 1
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) clone(o *db.Order) *db.Order {
	cp := *o
	return &cp
}

func (s *fakeOrderStore) Create(_ context.Context, order *db.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.nextID
	s.nextID++
	if order.ProviderOrderID == "" {
		order.ProviderOrderID = strconv.FormatInt(order.ID, 10)
	}
	order.CreatedAt = time.Now()
	s.orders[order.ID] = s.clone(order)
	return nil
}

func (s *fakeOrderStore) GetByID(_ context.Context, id int64) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return s.clone(o), nil
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeOrderStore) GetByProviderOrderID(_ context.Context, ref string) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ProviderOrderID == ref {
			return s.clone(o), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeOrderStore) SearchByPartialReference(_ context.Context, ref string) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if strings.Contains(strings.ToLower(o.ProviderOrderID), strings.ToLower(ref)) {
			return s.clone(o), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeOrderStore) FindProfileByICCID(_ context.Context, iccid string) (*db.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *db.Order
	for _, o := range s.orders {
		if o.ICCID != iccid || o.OrderType == db.OrderTypeTopup {
			continue
		}
		if best == nil || o.CreatedAt.Before(best.CreatedAt) {
			best = o
		}
	}
	if best == nil {
		return nil, pgx.ErrNoRows
	}
	return s.clone(best), nil
}

func (s *fakeOrderStore) MarkActive(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	if o.Status != db.StatusPending && o.Status != db.StatusActive {
		return db.ErrInvalidStatusTransition
	}
	o.Status = db.StatusActive
	if o.ActivatedAt.IsZero() {
		o.ActivatedAt = time.Now()
	}
	return nil
}

func (s *fakeOrderStore) SaveArtifacts(_ context.Context, orderID int64, artifacts models.Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	setIfNotEmpty(&o.ICCID, artifacts.ICCID)
	setIfNotEmpty(&o.ActivationCode, artifacts.ActivationCode)
	setIfNotEmpty(&o.LPA, artifacts.LPA)
	setIfNotEmpty(&o.QRCodeURL, artifacts.QRCodeURL)
	setIfNotEmpty(&o.InstallURL, artifacts.InstallURL)
	setIfNotEmpty(&o.PlanName, artifacts.PlanName)
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (s *fakeOrderStore) SetExpiry(_ context.Context, orderID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.ExpiresAt = expiresAt
	return nil
}

func (s *fakeOrderStore) UpdateCountry(_ context.Context, orderID int64, code, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.CountryCode, o.CountryName = code, name
	return nil
}

func (s *fakeOrderStore) UpdateProviderOrderID(_ context.Context, orderID int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	o.ProviderOrderID = ref
	return nil
}

type fakeCatalog struct {
	byID   map[int64]*db.Package
	bySlug map[string]*db.Package
}

func newFakeCatalog(packages ...*db.Package) *fakeCatalog {
	c := &fakeCatalog{byID: make(map[int64]*db.Package), bySlug: make(map[string]*db.Package)}
	for _, p := range packages {
		c.byID[p.ID] = p
		c.bySlug[p.Slug] = p
	}
	return c
}

func (c *fakeCatalog) PackageByID(_ context.Context, id int64) (*db.Package, error) {
	if p, ok := c.byID[id]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

func (c *fakeCatalog) PackageBySlug(_ context.Context, slug string) (*db.Package, error) {
	if p, ok := c.bySlug[slug]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

type fakeProvisioner struct {
	mu         sync.Mutex
	orderCalls int
	topupCalls int
	result     *esim.ProvisionResult
	err        error

	// started is closed on the first provider call; block, when set, delays
	// the call until closed.
	started chan struct{}
	block   chan struct{}
}

func (p *fakeProvisioner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderCalls + p.topupCalls
}

func (p *fakeProvisioner) enter() {
	p.mu.Lock()
	if p.started != nil {
		select {
		case <-p.started:
		default:
			close(p.started)
		}
	}
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
}

func (p *fakeProvisioner) CreateOrder(_ context.Context, _ esim.OrderRequest) (*esim.ProvisionResult, error) {
	p.enter()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderCalls++
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &esim.ProvisionResult{
		OrderID:    "9876543210123",
		ICCID:      "8944500000000000001",
		LPA:        "LPA:1$lpa.example.com$MATCH-01",
		QRCodeURL:  "https://provider.example.com/qr/1",
		InstallURL: "https://provider.example.com/install/1",
	}, nil
}

func (p *fakeProvisioner) CreateTopup(_ context.Context, req esim.TopupRequest) (*esim.ProvisionResult, error) {
	p.enter()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topupCalls++
	if p.err != nil {
		return nil, p.err
	}
	return &esim.ProvisionResult{OrderID: "9876543210999", ICCID: req.ICCID}, nil
}

type fakeSettings struct {
	settings *db.Settings
	err      error
}

func (f *fakeSettings) Get(context.Context) (*db.Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.settings, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	activations int
	pendings    int
	topups      int
}

func (n *recordingNotifier) NotifyActivation(context.Context, *db.Order, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activations++
	return nil
}

func (n *recordingNotifier) NotifyPending(context.Context, *db.Order, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendings++
	return nil
}

func (n *recordingNotifier) NotifyTopup(context.Context, *db.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topups++
	return nil
}
