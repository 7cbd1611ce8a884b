package notify

import (
	"text/template"
)

// Audience selects who receives a routed event.
type Audience int

const (
	AudienceCustomer Audience = iota + 1
	AudienceAdmin
	// AudienceOtherParty is the customer when an admin acted, and the admins
	// when the customer acted.
	AudienceOtherParty
)

// Route is one row of the routing table.
type Route struct {
	Audiences []Audience
	// NeedsOrder loads the order summary before rendering.
	NeedsOrder bool
	Subject    *template.Template
	Body       *template.Template
}

func route(name, subject, body string, needsOrder bool, audiences ...Audience) Route {
	return Route{
		Audiences:  audiences,
		NeedsOrder: needsOrder,
		Subject:    template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		Body:       template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(body)),
	}
}

// DefaultRoutes returns the routing table for every workflow event.
func DefaultRoutes() map[EventType]Route {
	return map[EventType]Route{
		EventOrderSubmitted: route("order.submitted",
			`New order for {{.Order.Domain}} awaiting review`,
			`Order {{.Order.ID}} for {{.Order.Domain}} ({{.Order.TermYears}} year(s), {{.Order.Total}} {{.Order.Currency}}) is waiting for review.`,
			true, AudienceAdmin),

		EventOrderApproved: route("order.approved",
			`Your order for {{.Order.Domain}} was approved`,
			`Your order for {{.Order.Domain}} was approved. Invoice {{index .Data "invoiceId"}} for {{.Order.Total}} {{.Order.Currency}} is ready for payment.`,
			true, AudienceCustomer),

		EventOrderRejected: route("order.rejected",
			`Your order for {{.Order.Domain}} was not approved`,
			`Your order for {{.Order.Domain}} was not approved: {{.Order.ReasonMessage}}`,
			true, AudienceCustomer),

		EventPaymentFailed: route("payment.failed",
			`Payment for {{.Order.Domain}} did not go through`,
			`We could not take payment for invoice {{index .Data "invoiceId"}}. You can retry checkout at any time; your order is still approved.`,
			true, AudienceCustomer),

		EventOrderPaid: route("order.paid",
			`Payment received for {{.Order.Domain}}`,
			`Thanks, we received your payment for {{.Order.Domain}}. Registration is under way.`,
			true, AudienceCustomer),

		EventOrderProvisioned: route("order.provisioned",
			`{{.Order.Domain}} is ready`,
			`{{.Order.Domain}} is now registered to you.{{if .Order.ReasonMessage}} Note: {{.Order.ReasonMessage}}{{end}}`,
			true, AudienceCustomer),

		EventOrderProvisionFailed: route("order.provision_failed",
			`We could not complete {{.Order.Domain}}`,
			`Registration of {{.Order.Domain}} stopped ({{.Order.ReasonCode}}): {{.Order.ReasonMessage}}. Our team will contact you about next steps.`,
			true, AudienceCustomer, AudienceAdmin),

		EventHostingFollowUp: route("hosting.follow_up",
			`Hosting needs attention for {{.Order.Domain}}`,
			`{{.Order.Domain}} was registered but hosting could not be created ({{.Order.ReasonCode}}): {{.Order.ReasonMessage}}`,
			true, AudienceAdmin),

		EventTicketReplied: route("ticket.replied",
			`New reply on ticket {{index .Data "ticketId"}}`,
			`{{index .Data "message"}}`,
			false, AudienceOtherParty),
	}
}
