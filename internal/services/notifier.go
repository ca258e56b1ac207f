package services

import (
	"context"
	"fmt"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/email"
)

// Notifier delivers best-effort customer notifications. Failures are logged
// by the caller and never fail fulfillment.
type Notifier interface {
	NotifyActivation(ctx context.Context, order *db.Order, activationLink string) error
	NotifyPending(ctx context.Context, order *db.Order, statusLink string) error
	NotifyTopup(ctx context.Context, order *db.Order) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyActivation(context.Context, *db.Order, string) error { return nil }
func (noopNotifier) NotifyPending(context.Context, *db.Order, string) error    { return nil }
func (noopNotifier) NotifyTopup(context.Context, *db.Order) error              { return nil }

// EmailNotifier sends the customer emails through the configured provider.
type EmailNotifier struct {
	provider email.Provider
}

func NewEmailNotifier(provider email.Provider) *EmailNotifier {
	return &EmailNotifier{provider: provider}
}

func (n *EmailNotifier) NotifyActivation(ctx context.Context, order *db.Order, activationLink string) error {
	return email.SendActivation(ctx, n.provider, buildActivationInfo(order, activationLink, ""))
}

func (n *EmailNotifier) NotifyPending(ctx context.Context, order *db.Order, statusLink string) error {
	return email.SendPending(ctx, n.provider, buildActivationInfo(order, "", statusLink))
}

func (n *EmailNotifier) NotifyTopup(ctx context.Context, order *db.Order) error {
	return email.SendTopup(ctx, n.provider, buildActivationInfo(order, "", ""))
}

func buildActivationInfo(order *db.Order, activationLink, statusLink string) *email.ActivationInfo {
	if order == nil {
		return &email.ActivationInfo{}
	}
	return &email.ActivationInfo{
		CustomerEmail:  order.CustomerEmail,
		PlanName:       order.PlanName,
		CountryName:    order.CountryName,
		ICCID:          order.ICCID,
		ActivationLink: activationLink,
		QRCodeURL:      order.QRCodeURL,
		OrderReference: fmt.Sprintf("#%d", order.ID),
		StatusLink:     statusLink,
	}
}
