package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/simshopapp/simshop/internal/cache"
	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/models"
	"github.com/simshopapp/simshop/internal/robokassa"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

type webhookFixture struct {
	svc   *WebhookService
	store *fakeOrderStore
	prov  *fakeProvisioner
}

func newWebhookFixture(t *testing.T, orders ...*db.Order) *webhookFixture {
	t.Helper()

	store := newFakeOrderStore(orders...)
	prov := &fakeProvisioner{}
	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cacheProvider.Close() })

	settings := &fakeSettings{settings: &db.Settings{
		MerchantLogin: "simshop",
		PassOne:       "pass-one",
		PassTwo:       "pass-two",
		Mode:          models.GatewayModeLive,
	}}
	resolver := NewLinkResolver(store, "https://shop.example.com")
	fulfillment := newFulfillmentService(store, newFakeCatalog(), prov, nil)
	locator := NewOrderLocator(store, testLogger())

	return &webhookFixture{
		svc: NewWebhookService(
			settings, locator, fulfillment, resolver, cacheProvider,
			GatewayTestSecrets{}, testLogger(),
		),
		store: store,
		prov:  prov,
	}
}

func pendingOrder1001() *db.Order {
	return &db.Order{
		ID:              1001,
		ProviderOrderID: "1001",
		CustomerEmail:   "buyer@example.com",
		Amount:          500,
		Status:          db.StatusPending,
		OrderType:       db.OrderTypePurchase,
		Metadata:        map[string]any{models.MetaPackageSlug: "merhaba-7days-1gb"},
		CreatedAt:       time.Now(),
	}
}

func TestHandleResult_ValidCallbackActivatesAndFulfills(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t, pendingOrder1001())
	cb := robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: md5hex("500:1001:pass-two"),
	}

	ack, err := f.svc.HandleResult(context.Background(), cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != "OK1001" {
		t.Errorf("ack = %q, want %q", ack, "OK1001")
	}

	order, _ := f.store.GetByID(context.Background(), 1001)
	if order.Status != db.StatusActive {
		t.Errorf("status = %s, want active", order.Status)
	}
	if !order.Provisioned() {
		t.Error("order should be provisioned after fulfillment")
	}
	if f.prov.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", f.prov.calls())
	}
}

func TestHandleResult_FlippedSignatureRejects(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t, pendingOrder1001())
	sig := md5hex("500:1001:pass-two")
	flipped := "0" + sig[1:]
	if flipped == sig {
		flipped = "1" + sig[1:]
	}

	_, err := f.svc.HandleResult(context.Background(), robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: flipped,
	})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}

	order, _ := f.store.GetByID(context.Background(), 1001)
	if order.Status != db.StatusPending {
		t.Errorf("status = %s, rejected callback must not mutate state", order.Status)
	}
	if f.prov.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", f.prov.calls())
	}
}

func TestHandleResult_UnknownOrderStillAcknowledges(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t)
	cb := robokassa.Callback{
		OutSum:         "500",
		InvID:          "777777",
		SignatureValue: md5hex("500:777777:pass-two"),
	}

	ack, err := f.svc.HandleResult(context.Background(), cb)
	if err != nil {
		t.Fatalf("unknown order must still acknowledge, got error: %v", err)
	}
	if ack != "OK777777" {
		t.Errorf("ack = %q, want %q", ack, "OK777777")
	}
}

func TestHandleResult_DuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t, pendingOrder1001())
	cb := robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: md5hex("500:1001:pass-two"),
	}

	for i := 0; i < 3; i++ {
		ack, err := f.svc.HandleResult(context.Background(), cb)
		if err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
		if ack != "OK1001" {
			t.Errorf("delivery %d ack = %q, want OK1001", i, ack)
		}
	}
	if f.prov.calls() != 1 {
		t.Errorf("provider calls = %d, want exactly 1 across retries", f.prov.calls())
	}
}

func TestHandleResult_TestModeUsesEnvironmentSecrets(t *testing.T) {
	t.Parallel()

	store := newFakeOrderStore(pendingOrder1001())
	prov := &fakeProvisioner{}
	settings := &fakeSettings{settings: &db.Settings{
		MerchantLogin: "simshop",
		PassOne:       "live-one",
		PassTwo:       "live-two",
		Mode:          models.GatewayModeTest,
	}}
	resolver := NewLinkResolver(store, "https://shop.example.com")
	svc := NewWebhookService(
		settings,
		NewOrderLocator(store, testLogger()),
		newFulfillmentService(store, newFakeCatalog(), prov, nil),
		resolver,
		nil,
		GatewayTestSecrets{PassOne: "test-one", PassTwo: "test-two"},
		testLogger(),
	)

	ack, err := svc.HandleResult(context.Background(), robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: md5hex("500:1001:test-two"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack != "OK1001" {
		t.Errorf("ack = %q, want OK1001", ack)
	}
}

func TestHandleSuccess_RedirectDestinations(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t, pendingOrder1001())
	validSig := md5hex(fmt.Sprintf("%s:%s:%s:%s", "simshop", "500", "1001", "pass-one"))

	got := f.svc.HandleSuccess(context.Background(), robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: validSig,
	})
	if !strings.Contains(got, "order=1001") {
		t.Errorf("redirect %q should carry the order id", got)
	}

	order, _ := f.store.GetByID(context.Background(), 1001)
	if order.Status != db.StatusActive {
		t.Errorf("status = %s, redirect should confirm payment", order.Status)
	}

	// Invalid signature falls back to the bare pending view.
	got = f.svc.HandleSuccess(context.Background(), robokassa.Callback{
		OutSum:         "500",
		InvID:          "1001",
		SignatureValue: "deadbeef",
	})
	if strings.Contains(got, "order=") {
		t.Errorf("unverified redirect %q must not carry order parameters", got)
	}
	if !strings.Contains(got, "/pending") {
		t.Errorf("unverified redirect %q should land on the pending view", got)
	}
}

func TestHandleStatus_DrivesFulfillment(t *testing.T) {
	t.Parallel()

	order := pendingOrder1001()
	order.Status = db.StatusActive
	f := newWebhookFixture(t, order)

	status, err := f.svc.HandleStatus(context.Background(), 1001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Provisioned {
		t.Error("poll on an active order should drive provisioning")
	}
	if status.Status != string(db.StatusActive) {
		t.Errorf("status = %q, want active", status.Status)
	}
	if !strings.Contains(status.RedirectURL, "order=1001") {
		t.Errorf("redirect %q should carry the order id", status.RedirectURL)
	}
	if f.prov.calls() != 1 {
		t.Errorf("provider calls = %d, want 1", f.prov.calls())
	}
}

func TestHandleStatus_UnknownOrder(t *testing.T) {
	t.Parallel()

	f := newWebhookFixture(t)
	if _, err := f.svc.HandleStatus(context.Background(), 404); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}
