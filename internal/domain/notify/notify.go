// Package notify maps workflow transitions to emails. Delivery is best
// effort: by the time an event is dispatched its transition is committed,
// so nothing here can report failure back to the caller.
package notify

import (
	"context"
	"time"
)

// EventType names a workflow transition.
type EventType string

const (
	EventOrderSubmitted       EventType = "order.submitted"
	EventOrderApproved        EventType = "order.approved"
	EventOrderRejected        EventType = "order.rejected"
	EventPaymentFailed        EventType = "payment.failed"
	EventOrderPaid            EventType = "order.paid"
	EventOrderProvisioned     EventType = "order.provisioned"
	EventOrderProvisionFailed EventType = "order.provision_failed"
	EventHostingFollowUp      EventType = "hosting.follow_up"
	EventTicketReplied        EventType = "ticket.replied"
)

// Event is one transition to notify about.
type Event struct {
	Type       EventType
	OrderID    string
	CustomerID string
	// ActorID is who caused the event. Routes addressed to the "other party"
	// use it to skip the author.
	ActorID string
	At      time.Time
	Data    map[string]string
}

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Directory resolves customer contact addresses.
type Directory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// OrderSummary is the order data templates may reference.
type OrderSummary struct {
	ID            string
	Domain        string
	Status        string
	TermYears     int
	Total         string
	Currency      string
	ReasonCode    string
	ReasonMessage string
	InvoiceID     string
}

// OrderSource loads order summaries for templates.
type OrderSource interface {
	OrderSummary(ctx context.Context, orderID string) (OrderSummary, error)
}

// Sink receives every dispatched event, e.g. an event stream.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}
