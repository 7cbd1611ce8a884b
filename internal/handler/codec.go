package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/domain/provision"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

// httpError is an error with a fixed response status.
type httpError struct {
	Status  int
	Message string
}

func (e *httpError) Error() string {
	return e.Message
}

func badRequest(msg string) error {
	return &httpError{Status: http.StatusBadRequest, Message: msg}
}

var errNotFound = &httpError{Status: http.StatusNotFound, Message: "not found"}

// statusOf maps a domain error to a response status and client message.
func statusOf(err error) (int, string) {
	var he *httpError
	if errors.As(err, &he) {
		return he.Status, he.Message
	}

	var ve *order.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity, ve.Error()
	}

	switch {
	case errors.Is(err, availability.ErrInvalidQuery),
		errors.Is(err, billing.ErrInvalidEvent):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, order.ErrConflict),
		errors.Is(err, provision.ErrInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, availability.ErrUnavailable), provider.IsRetryable(err):
		return http.StatusServiceUnavailable, "upstream provider unavailable, retry later"
	}

	if pe, ok := provider.AsPermanent(err); ok {
		return http.StatusUnprocessableEntity, pe.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError renders err as {"code":<status>,"message":<reason>}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)
	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		lg.Error("Request failed", zap.Error(err))
	case status == http.StatusServiceUnavailable:
		lg.Warn("Upstream unavailable", zap.Error(err))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	default:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// readBody reads at most limit bytes of the request body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, badRequest("read body")
	}
	if int64(len(body)) > limit {
		return nil, &httpError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	return body, nil
}

// decodeObject iterates the fields of a JSON object body.
func decodeObject(body []byte, fn func(d *jx.Decoder, key string) error) error {
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		return badRequest("malformed JSON: " + err.Error())
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func encodeQuote(e *jx.Encoder, q availability.Quote) {
	e.ObjStart()
	e.FieldStart("domain")
	e.Str(q.FQDN())
	e.FieldStart("name")
	e.Str(q.Domain)
	e.FieldStart("tld")
	e.Str(q.TLD)
	e.FieldStart("available")
	e.Bool(q.Available)
	if q.Failed() {
		e.FieldStart("error")
		e.Str(q.Error)
	} else {
		e.FieldStart("price")
		e.Str(money(q.Price))
		e.FieldStart("currency")
		e.Str(q.Currency)
		e.FieldStart("premium")
		e.Bool(q.Premium)
	}
	e.ObjEnd()
}

func encodeReason(e *jx.Encoder, r *order.Reason) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(r.Kind))
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("message")
	e.Str(r.Message)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order, invoiceID string) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("domain")
	e.Str(o.FQDN())
	e.FieldStart("years")
	e.Int(o.TermYears)
	e.FieldStart("domainPrice")
	e.Str(money(o.DomainPrice))
	if o.HasHosting() {
		e.FieldStart("hostingPackageId")
		e.Str(o.HostingPackageID)
		e.FieldStart("hostingPrice")
		e.Str(money(o.HostingPrice))
	}
	e.FieldStart("total")
	e.Str(money(o.TotalEstimate))
	e.FieldStart("currency")
	e.Str(o.Currency)
	e.FieldStart("status")
	e.Str(string(o.Status))
	if o.Reason != nil {
		e.FieldStart("reason")
		encodeReason(e, o.Reason)
	}
	if invoiceID != "" {
		e.FieldStart("invoiceId")
		e.Str(invoiceID)
	}
	e.FieldStart("createdAt")
	e.Str(timestamp(o.CreatedAt))
	if o.ReviewedAt != nil {
		e.FieldStart("reviewedAt")
		e.Str(timestamp(*o.ReviewedAt))
	}
	e.ObjEnd()
}

func encodeRecords(e *jx.Encoder, rec *provision.Records) {
	e.ObjStart()
	if d := rec.Domain; d != nil {
		e.FieldStart("domain")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(d.ID)
		e.FieldStart("name")
		e.Str(d.FQDN())
		e.FieldStart("status")
		e.Str(string(d.Status))
		e.FieldStart("registeredAt")
		e.Str(timestamp(d.RegisteredAt))
		e.FieldStart("expiresAt")
		e.Str(timestamp(d.ExpiresAt))
		e.FieldStart("registrarRef")
		e.Str(d.RegistrarRef)
		e.ObjEnd()
	}
	if h := rec.Hosting; h != nil {
		e.FieldStart("hosting")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(h.ID)
		e.FieldStart("packageId")
		e.Str(h.PackageID)
		e.FieldStart("status")
		e.Str(string(h.Status))
		e.FieldStart("accountId")
		e.Str(h.ProviderAccountID)
		e.FieldStart("nextBillingAt")
		e.Str(timestamp(h.NextBillingAt))
		e.ObjEnd()
	}
	e.FieldStart("requests")
	e.ArrStart()
	for _, r := range rec.Requests {
		e.ObjStart()
		e.FieldStart("type")
		e.Str(string(r.Type))
		e.FieldStart("status")
		e.Str(string(r.Status))
		e.FieldStart("attempts")
		e.Int(r.Attempts)
		if r.Notes != "" {
			e.FieldStart("notes")
			e.Str(r.Notes)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
