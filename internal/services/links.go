package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/simshopapp/simshop/internal/db"
)

const (
	activationViewPath = "/payment-success/esim"
	pendingViewPath    = "/payment-success/esim/pending"
)

type profileLookup interface {
	FindProfileByICCID(ctx context.Context, iccid string) (*db.Order, error)
}

// LinkResolver picks the post-payment destination from persisted order state
// only. Provisioned orders land on the activation view; everything else gets
// the pending-instructions view. It has no side effects and is safe to call
// on every redirect and poll.
type LinkResolver struct {
	store   profileLookup
	baseURL string
}

func NewLinkResolver(store profileLookup, baseURL string) *LinkResolver {
	return &LinkResolver{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// Resolve returns the absolute destination URL for an order, carrying the
// order id, amount and country as query parameters.
func (r *LinkResolver) Resolve(ctx context.Context, order *db.Order) string {
	path := pendingViewPath
	if r.provisioned(ctx, order) {
		path = activationViewPath
	}

	params := url.Values{}
	if order != nil {
		params.Set("order", strconv.FormatInt(order.ID, 10))
		if order.Amount > 0 {
			params.Set("amount", fmt.Sprintf("%.2f", order.Amount))
		}
		if order.CountryCode != "" {
			params.Set("country", order.CountryCode)
		}
	}
	return r.baseURL + path + "?" + params.Encode()
}

// provisioned checks artifact presence. For top-ups the original profile,
// not the top-up order, decides: the top-up never gets its own activation
// payload.
func (r *LinkResolver) provisioned(ctx context.Context, order *db.Order) bool {
	if order == nil {
		return false
	}
	if order.OrderType != db.OrderTypeTopup {
		return order.Provisioned()
	}

	iccid := order.ExistingICCID()
	if iccid == "" || r.store == nil {
		return false
	}
	profile, err := r.store.FindProfileByICCID(ctx, iccid)
	if err != nil {
		return false
	}
	return profile.Provisioned()
}
