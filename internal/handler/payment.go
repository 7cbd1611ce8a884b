package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/payment"
)

// CreateCheckout opens a hosted checkout session for the caller's invoice.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.billing.GetInvoice(ctx, pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := PrincipalFromContext(ctx)
	if !canView(p, inv.CustomerID) {
		writeError(w, r, errNotFound)
		return
	}

	c, err := h.billing.CreateCheckout(ctx, inv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("invoiceId")
		e.Str(c.InvoiceID)
		e.FieldStart("sessionId")
		e.Str(c.SessionID)
		e.FieldStart("url")
		e.Str(c.URL)
		e.ObjEnd()
	})
}

// PaymentEvent receives {eventId, invoiceId, outcome} from the payment
// processor. Duplicates are acknowledged with 200 like first deliveries.
func (h *Handler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, h.maxBody)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := payment.Verify(h.webhookSecret, r.Header.Get(payment.SignatureHeader), body, h.now(), h.tolerance); err != nil {
		writeError(w, r, errUnauthorized)
		return
	}

	var ev billing.PaymentEvent
	err = decodeObject(body, func(d *jx.Decoder, key string) error {
		var (
			s   string
			err error
		)
		switch key {
		case "eventId":
			ev.EventID, err = d.Str()
		case "invoiceId":
			ev.InvoiceID, err = d.Str()
		case "outcome":
			s, err = d.Str()
			ev.Outcome = billing.Outcome(s)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	ev.ReceivedAt = h.now()

	res, err := h.billing.HandlePaymentEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("result")
		e.Str(string(res))
		e.ObjEnd()
	})
}
