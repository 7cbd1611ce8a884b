package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/metrics"
	"github.com/xenking/domainshop/internal/payment"
)

// Config holds billing settings.
type Config struct {
	DueIn         time.Duration        `default:"168h" usage:"Invoice due period after approval"`
	SuccessURL    string               `usage:"Checkout success redirect URL"`
	CancelURL     string               `usage:"Checkout cancel redirect URL"`
	Retry         provider.RetryPolicy `usage:"Retry policy for checkout session creation"`
	SeenCapacity  uint                 `default:"100000" usage:"Expected payment events tracked by the replay filter"`
	SeenFalseRate float64              `default:"0.001" usage:"Replay filter false positive rate"`
}

// CheckoutProvider opens hosted checkout sessions.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

// EventResult describes how a payment event was handled. Every result is a
// success from the processor's point of view.
type EventResult string

const (
	EventProcessed     EventResult = "processed"
	EventDuplicate     EventResult = "duplicate"
	EventPaymentFailed EventResult = "payment_failed"
	EventAlreadyPaid   EventResult = "already_paid"
	EventIgnored       EventResult = "ignored"
)

// Checkout is a hosted payment page for an invoice.
type Checkout struct {
	InvoiceID string
	SessionID string
	URL       string
}

// Coordinator owns invoices and the payment side of the order workflow.
type Coordinator struct {
	invoices Repository
	orders   order.Repository
	queue    ProvisionQueue
	checkout CheckoutProvider
	tx       order.TxRunner
	notifier order.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
	wake     func()

	// seen holds event ids already committed. A hit is confirmed against
	// the store; a miss goes straight to the write path.
	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

// NewCoordinator creates a Coordinator. wake is called after a payment
// commits so provisioning starts without waiting for the next poll; it
// may be nil.
func NewCoordinator(
	cfg Config,
	invoices Repository,
	orders order.Repository,
	queue ProvisionQueue,
	checkout CheckoutProvider,
	tx order.TxRunner,
	notifier order.Notifier,
	m *metrics.Metrics,
	wake func(),
) *Coordinator {
	if cfg.DueIn <= 0 {
		cfg.DueIn = 7 * 24 * time.Hour
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = provider.DefaultRetryPolicy()
	}
	if cfg.SeenCapacity == 0 {
		cfg.SeenCapacity = 100_000
	}
	if cfg.SeenFalseRate <= 0 {
		cfg.SeenFalseRate = 0.001
	}
	if wake == nil {
		wake = func() {}
	}
	return &Coordinator{
		invoices: invoices,
		orders:   orders,
		queue:    queue,
		checkout: checkout,
		tx:       tx,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
		wake:     wake,
		seen:     bloom.NewWithEstimates(cfg.SeenCapacity, cfg.SeenFalseRate),
	}
}

// SetClock overrides the time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// IssueInvoice creates the order's invoice. It runs inside the approval
// transaction; the unique order index makes a second invoice impossible
// even if the status guard were bypassed.
func (c *Coordinator) IssueInvoice(ctx context.Context, o *order.Order) (string, error) {
	if o.Status != order.StatusApproved {
		return "", &order.ConflictError{OrderID: o.ID, Expected: order.StatusApproved, Actual: o.Status}
	}

	now := c.now()
	inv := &Invoice{
		ID:         uuid.New().String(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.TotalEstimate,
		Currency:   o.Currency,
		Status:     InvoicePending,
		DueAt:      now.Add(c.cfg.DueIn),
		CreatedAt:  now,
	}
	if err := c.invoices.CreateInvoice(ctx, inv); err != nil {
		return "", err
	}
	return inv.ID, nil
}

// GetInvoice returns an invoice by id.
func (c *Coordinator) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return c.invoices.GetInvoice(ctx, id)
}

// GetInvoiceByOrder returns the invoice issued for an order.
func (c *Coordinator) GetInvoiceByOrder(ctx context.Context, orderID string) (*Invoice, error) {
	return c.invoices.GetInvoiceByOrder(ctx, orderID)
}

// CreateCheckout opens a hosted checkout session for a pending invoice. It
// never marks anything paid; confirmation arrives as a payment event. After
// a failed payment the customer calls this again for the same invoice.
func (c *Coordinator) CreateCheckout(ctx context.Context, invoiceID string) (*Checkout, error) {
	inv, err := c.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoicePending {
		return nil, errors.Wrapf(ErrInvoiceNotPayable, "invoice %s is %s", inv.ID, inv.Status)
	}

	req := payment.SessionRequest{
		InvoiceID:      inv.ID,
		Amount:         inv.Amount,
		Currency:       inv.Currency,
		SuccessURL:     c.cfg.SuccessURL,
		CancelURL:      c.cfg.CancelURL,
		IdempotencyKey: uuid.New().String(),
	}

	var session payment.Session
	err = provider.Do(ctx, c.cfg.Retry, func(ctx context.Context, _ int) error {
		var err error
		session, err = c.checkout.CreateSession(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if err := c.invoices.SetCheckoutSession(ctx, inv.ID, session.ID); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}

	return &Checkout{InvoiceID: inv.ID, SessionID: session.ID, URL: session.URL}, nil
}

// HandlePaymentEvent consumes one processor callback. Redeliveries of the
// same EventID, and events for an invoice that is already paid, are
// successful no-ops. Only the first successful payment marks the invoice
// paid, advances the order to PAID and queues provisioning.
func (c *Coordinator) HandlePaymentEvent(ctx context.Context, ev PaymentEvent) (EventResult, error) {
	if ev.EventID == "" || ev.InvoiceID == "" {
		return "", errors.Wrap(ErrInvalidEvent, "event id and invoice id are required")
	}
	if ev.Outcome != OutcomeSucceeded && ev.Outcome != OutcomeFailed {
		return "", errors.Wrapf(ErrInvalidEvent, "unknown outcome %q", ev.Outcome)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = c.now()
	}

	lg := zctx.From(ctx).With(
		zap.String("event_id", ev.EventID),
		zap.String("invoice_id", ev.InvoiceID),
	)

	if c.maybeSeen(ev.EventID) {
		processed, err := c.invoices.EventProcessed(ctx, ev.EventID)
		if err != nil {
			return "", errors.Wrap(err, "check event")
		}
		if processed {
			lg.Debug("Duplicate payment event")
			c.metrics.IncPaymentEvent(string(EventDuplicate))
			return EventDuplicate, nil
		}
	}

	var (
		result EventResult
		inv    *Invoice
		paid   *order.Order
	)
	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		inserted, err := c.invoices.RecordEvent(ctx, ev)
		if err != nil {
			return errors.Wrap(err, "record event")
		}
		if !inserted {
			result = EventDuplicate
			return nil
		}

		inv, err = c.invoices.GetInvoice(ctx, ev.InvoiceID)
		if err != nil {
			return err
		}

		if ev.Outcome == OutcomeFailed {
			result = EventPaymentFailed
			if inv.Status != InvoicePending {
				result = EventIgnored
			}
			return nil
		}

		switch inv.Status {
		case InvoicePaid:
			result = EventAlreadyPaid
			return nil
		case InvoiceCancelled:
			result = EventIgnored
			return nil
		}

		ok, err := c.invoices.MarkPaid(ctx, inv.ID, ev.ReceivedAt)
		if err != nil {
			return errors.Wrap(err, "mark invoice paid")
		}
		if !ok {
			result = EventAlreadyPaid
			return nil
		}

		paid, err = order.CompareAndSwap(ctx, c.orders, inv.OrderID, order.StatusApproved, order.StatusPaid, order.TransitionUpdate{
			At: ev.ReceivedAt,
		})
		if err != nil {
			return err
		}

		if err := c.queue.Enqueue(ctx, paid); err != nil {
			return errors.Wrap(err, "enqueue provisioning")
		}

		result = EventProcessed
		return nil
	})
	if err != nil {
		return "", err
	}

	c.markSeen(ev.EventID)
	c.metrics.IncPaymentEvent(string(result))

	switch result {
	case EventProcessed:
		c.metrics.IncTransition(string(order.StatusApproved), string(order.StatusPaid))
		lg.Info("Payment confirmed", zap.String("order_id", paid.ID))
		c.wake()
		c.notifier.Dispatch(ctx, notify.Event{
			Type:       notify.EventOrderPaid,
			OrderID:    paid.ID,
			CustomerID: paid.CustomerID,
			At:         ev.ReceivedAt,
			Data:       map[string]string{"invoiceId": inv.ID},
		})
	case EventPaymentFailed:
		lg.Info("Payment failed", zap.String("order_id", inv.OrderID))
		c.notifier.Dispatch(ctx, notify.Event{
			Type:       notify.EventPaymentFailed,
			OrderID:    inv.OrderID,
			CustomerID: inv.CustomerID,
			At:         ev.ReceivedAt,
			Data:       map[string]string{"invoiceId": inv.ID},
		})
	case EventIgnored:
		lg.Warn("Payment event ignored",
			zap.String("order_id", inv.OrderID),
			zap.String("invoice_status", string(inv.Status)),
			zap.String("outcome", string(ev.Outcome)),
		)
	}

	return result, nil
}

func (c *Coordinator) maybeSeen(eventID string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	return c.seen.TestString(eventID)
}

func (c *Coordinator) markSeen(eventID string) {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	c.seen.AddString(eventID)
}
