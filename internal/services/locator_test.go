package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/simshopapp/simshop/internal/db"
)

func TestLocate_Strategies(t *testing.T) {
	t.Parallel()

	store := newFakeOrderStore(
		&db.Order{ID: 1001, ProviderOrderID: "9876543210123", CreatedAt: time.Now()},
		&db.Order{ID: 42, ProviderOrderID: "42", CreatedAt: time.Now()},
	)
	locator := NewOrderLocator(store, testLogger())

	tests := []struct {
		name      string
		reference string
		wantID    int64
	}{
		{name: "exact provider order id", reference: "9876543210123", wantID: 1001},
		{name: "internal row id", reference: "1001", wantID: 1001},
		{name: "self-issued invoice", reference: "42", wantID: 42},
		{name: "partial match", reference: "43210123", wantID: 1001},
		{name: "whitespace tolerated", reference: "  9876543210123 ", wantID: 1001},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			order, err := locator.Locate(context.Background(), tc.reference)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.ID != tc.wantID {
				t.Errorf("order ID = %d, want %d", order.ID, tc.wantID)
			}
		})
	}
}

func TestLocate_LargeNumericReferenceSkipsRowIDLookup(t *testing.T) {
	t.Parallel()

	// A 13-digit invoice that matches no order must not be treated as a row
	// id; it falls through to the partial search and then not-found.
	store := newFakeOrderStore(&db.Order{ID: 7, ProviderOrderID: "7", CreatedAt: time.Now()})
	locator := NewOrderLocator(store, testLogger())

	_, err := locator.Locate(context.Background(), "9999999999999")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestLocate_NotFound(t *testing.T) {
	t.Parallel()

	locator := NewOrderLocator(newFakeOrderStore(), testLogger())

	for _, reference := range []string{"", "   ", "nope"} {
		if _, err := locator.Locate(context.Background(), reference); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("Locate(%q) err = %v, want ErrOrderNotFound", reference, err)
		}
	}
}
