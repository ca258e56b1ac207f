package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/services"
)

func statusRequest(t *testing.T, f *fixture, path string) *httptest.ResponseRecorder {
	t.Helper()

	router := mux.NewRouter()
	router.HandleFunc("/orders/{id}/status", f.handlers.OrderStatus).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOrderStatus_DrivesFulfillment(t *testing.T) {
	t.Parallel()

	order := pendingOrder1001()
	order.Status = db.StatusActive
	f := newFixture(t, order)

	rec := statusRequest(t, f, "/orders/1001/status")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var status services.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.OrderID != 1001 {
		t.Fatalf("expected order id 1001, got %d", status.OrderID)
	}
	if status.Status != string(db.StatusActive) {
		t.Fatalf("expected active status, got %q", status.Status)
	}
	if !status.Provisioned {
		t.Fatal("expected poll to provision the order")
	}
	if status.RedirectURL == "" {
		t.Fatal("expected a redirect url")
	}
	if got := f.prov.calls(); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}
}

func TestOrderStatus_UnknownOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := statusRequest(t, f, "/orders/4242/status")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestOrderStatus_InvalidID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := statusRequest(t, f, "/orders/not-a-number/status")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}
