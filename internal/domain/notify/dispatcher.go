package notify

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/metrics"
)

// Config holds dispatcher settings.
type Config struct {
	AdminEmails []string      `usage:"Addresses that receive admin notifications"`
	Timeout     time.Duration `default:"10s" usage:"Timeout for one dispatch"`
	Queue       QueueConfig
}

// Dispatcher routes events to recipients and hands rendered messages to a
// Sender. It never returns an error.
type Dispatcher struct {
	routes  map[EventType]Route
	sender  Sender
	dir     Directory
	orders  OrderSource
	sink    Sink
	cfg     Config
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher with the default routing table. sink and
// m may be nil.
func NewDispatcher(cfg Config, sender Sender, dir Directory, orders OrderSource, sink Sink, m *metrics.Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		routes:  DefaultRoutes(),
		sender:  sender,
		dir:     dir,
		orders:  orders,
		sink:    sink,
		cfg:     cfg,
		metrics: m,
	}
}

type templateData struct {
	Event Event
	Order OrderSummary
	Data  map[string]string
}

// Dispatch notifies the recipients routed for e. Failures, including panics
// in templates or senders, are logged and counted only.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	// The caller's request may end right after the commit.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	lg := zctx.From(ctx).With(
		zap.String("event", string(e.Type)),
		zap.String("order_id", e.OrderID),
	)
	defer func() {
		if r := recover(); r != nil {
			lg.Error("Notification panic", zap.Any("panic", r))
			d.metrics.IncNotification(string(e.Type), "failed")
		}
	}()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	if d.sink != nil {
		if err := d.sink.Publish(ctx, e); err != nil {
			lg.Warn("Event publish failed", zap.Error(err))
		}
	}

	if err := d.dispatch(ctx, e); err != nil {
		lg.Warn("Notification failed", zap.Error(err))
		d.metrics.IncNotification(string(e.Type), "failed")
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, e Event) error {
	r, ok := d.routes[e.Type]
	if !ok {
		d.metrics.IncNotification(string(e.Type), "skipped")
		return nil
	}

	data := templateData{Event: e, Data: e.Data}
	if data.Data == nil {
		data.Data = map[string]string{}
	}
	if r.NeedsOrder {
		summary, err := d.orders.OrderSummary(ctx, e.OrderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		data.Order = summary
	}

	to, err := d.recipients(ctx, r, e)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		d.metrics.IncNotification(string(e.Type), "skipped")
		return nil
	}

	msg, err := render(r, data)
	if err != nil {
		return err
	}
	msg.To = to

	if err := d.sender.Send(ctx, msg); err != nil {
		return errors.Wrap(err, "send")
	}
	d.metrics.IncNotification(string(e.Type), "sent")
	return nil
}

func (d *Dispatcher) recipients(ctx context.Context, r Route, e Event) ([]string, error) {
	var to []string
	addCustomer := func() error {
		if e.CustomerID == "" {
			return nil
		}
		email, err := d.dir.CustomerEmail(ctx, e.CustomerID)
		if err != nil {
			return errors.Wrapf(err, "customer %s email", e.CustomerID)
		}
		if email != "" {
			to = append(to, email)
		}
		return nil
	}

	for _, a := range r.Audiences {
		switch a {
		case AudienceCustomer:
			if err := addCustomer(); err != nil {
				return nil, err
			}
		case AudienceAdmin:
			to = append(to, d.cfg.AdminEmails...)
		case AudienceOtherParty:
			if e.ActorID != "" && e.ActorID == e.CustomerID {
				to = append(to, d.cfg.AdminEmails...)
			} else if err := addCustomer(); err != nil {
				return nil, err
			}
		}
	}

	slices.Sort(to)
	return slices.Compact(to), nil
}

func render(r Route, data templateData) (Message, error) {
	var subject, body bytes.Buffer
	if err := r.Subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := r.Body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}
