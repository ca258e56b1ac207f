package handlers

import (
	"errors"
	"net/http"

	"github.com/simshopapp/simshop/internal/robokassa"
	"github.com/simshopapp/simshop/internal/services"
)

// RobokassaResult handles the server-to-server payment notification. The
// gateway retries until it receives the OK{InvId} acknowledgement, so every
// outcome except a signature failure answers with the ack.
func (h *Handlers) RobokassaResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	cb, err := robokassa.ReadCallback(r)
	if err != nil {
		logger.Warn("unreadable result callback", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ack, err := h.webhooks.HandleResult(ctx, cb)
	if err != nil {
		if errors.Is(err, services.ErrVerificationFailed) {
			logger.Warn("result callback signature rejected", "invoice_id", cb.InvID)
			http.Error(w, "bad sign", http.StatusBadRequest)
			return
		}
		logger.Error("result callback failed", "invoice_id", cb.InvID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

// RobokassaSuccess handles the browser return from the payment page and
// redirects the customer to the activation or pending view.
func (h *Handlers) RobokassaSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	cb, err := robokassa.ReadCallback(r)
	if err != nil {
		logger.Warn("unreadable success callback", "error", err)
	}

	destination := h.webhooks.HandleSuccess(ctx, cb)
	http.Redirect(w, r, destination, http.StatusSeeOther)
}
