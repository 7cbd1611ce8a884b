package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
)

// SubmitOrder places an order for {domain, tld, years, hostingPackageId?}
// on behalf of the calling customer.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if p.CustomerID == "" {
		writeError(w, r, errForbidden)
		return
	}

	body, err := readBody(r, h.maxBody)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req := order.SubmitDomainRequest{CustomerID: p.CustomerID, TermYears: 1}
	err = decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "domain":
			req.Domain, err = d.Str()
		case "tld":
			req.TLD, err = d.Str()
		case "years":
			req.TermYears, err = d.Int()
		case "hostingPackageId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.HostingPackageID, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.SubmitForDomain(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, o, "")
	})
}

// loadOrder fetches an order the caller may see. Orders of other customers
// are reported as missing.
func (h *Handler) loadOrder(r *http.Request) (*order.Order, error) {
	o, err := h.orders.Get(r.Context(), pathID(r))
	if err != nil {
		return nil, err
	}
	p, _ := PrincipalFromContext(r.Context())
	if !canView(p, o.CustomerID) {
		return nil, errNotFound
	}
	return o, nil
}

// invoiceID returns the id of the order's invoice, or "" when none exists.
func (h *Handler) invoiceID(r *http.Request, o *order.Order) (string, error) {
	inv, err := h.billing.GetInvoiceByOrder(r.Context(), o.ID)
	if errors.Is(err, billing.ErrInvoiceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return inv.ID, nil
}

// GetOrder returns one order with its invoice reference.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.loadOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	invoiceID, err := h.invoiceID(r, o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, invoiceID)
	})
}

// OrderHistory returns the committed status transitions of an order.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	o, err := h.loadOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := h.orders.History(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, t := range history {
			e.ObjStart()
			if t.From != "" {
				e.FieldStart("from")
				e.Str(string(t.From))
			}
			e.FieldStart("to")
			e.Str(string(t.To))
			e.FieldStart("at")
			e.Str(timestamp(t.At))
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// OrderProvisioning returns the domain, hosting and request records of an
// order.
func (h *Handler) OrderProvisioning(w http.ResponseWriter, r *http.Request) {
	o, err := h.loadOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.provisioning.Records(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeRecords(e, rec)
	})
}

// ListMyOrders returns the caller's own orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if p.CustomerID == "" {
		writeError(w, r, errForbidden)
		return
	}
	h.listOrders(w, r, order.Filter{CustomerID: p.CustomerID})
}

// ListOrders returns orders filtered by ?status= for admins.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, order.Filter{
		Status:     order.Status(r.URL.Query().Get("status")),
		CustomerID: r.URL.Query().Get("customerId"),
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, f order.Filter) {
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i], "")
		}
		e.ArrEnd()
	})
}

// ApproveOrder approves a pending order and returns its new invoice id.
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.Approve(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("invoiceId")
		e.Str(res.InvoiceID)
		e.FieldStart("order")
		encodeOrder(e, res.Order, res.InvoiceID)
		e.ObjEnd()
	})
}

// RejectOrder rejects a pending order with {notes}.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, h.maxBody)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var notes string
	err = decodeObject(body, func(d *jx.Decoder, key string) error {
		if key != "notes" {
			return d.Skip()
		}
		var err error
		notes, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Reject(r.Context(), pathID(r), notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, "")
	})
}
