package handlers

import (
	"net/http"
	"strings"

	"github.com/simshopapp/simshop/internal/db"
	"github.com/simshopapp/simshop/internal/services"
)

// CheckoutRedirect creates a pending order and sends the customer to the
// signed gateway payment page.
func (h *Handlers) CheckoutRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	input := services.CheckoutInput{
		PackageSlug:   strings.TrimSpace(r.FormValue("package")),
		CustomerEmail: strings.TrimSpace(r.FormValue("email")),
		ExistingICCID: strings.TrimSpace(r.FormValue("iccid")),
		Source:        strings.TrimSpace(r.FormValue("source")),
	}
	if r.FormValue("type") == "topup" {
		input.OrderType = db.OrderTypeTopup
	}

	paymentURL, order, err := h.checkout.Start(ctx, input)
	if err != nil {
		logger.Warn("checkout rejected", "package", input.PackageSlug, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Info("checkout started", "order_id", order.ID, "package", input.PackageSlug)
	http.Redirect(w, r, paymentURL, http.StatusSeeOther)
}
