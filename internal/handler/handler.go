// Package handler exposes the order workflow over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/domainshop/internal/domain/auth"
	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/order"
	"github.com/xenking/domainshop/internal/domain/pricing"
	"github.com/xenking/domainshop/internal/domain/provision"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// WebhookSecret signs payment processor callbacks.
	WebhookSecret string
	// WebhookTolerance bounds the age of a webhook signature. Zero disables
	// the check.
	WebhookTolerance time.Duration
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the public, admin and webhook routes.
type Handler struct {
	search       *availability.Service
	catalog      pricing.Repository
	orders       *order.Service
	billing      *billing.Coordinator
	provisioning *provision.Provisioner

	webhookSecret []byte
	tolerance     time.Duration
	maxBody       int64
	now           func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	search *availability.Service,
	catalog pricing.Repository,
	orders *order.Service,
	billingCoordinator *billing.Coordinator,
	provisioner *provision.Provisioner,
) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	return &Handler{
		search:        search,
		catalog:       catalog,
		orders:        orders,
		billing:       billingCoordinator,
		provisioning:  provisioner,
		webhookSecret: []byte(cfg.WebhookSecret),
		tolerance:     cfg.WebhookTolerance,
		maxBody:       maxBody,
		now:           time.Now,
	}
}

// Routes mounts every API route under /api. Customer routes accept either
// scope; admin routes require the admin scope. The payment webhook is
// authenticated by its signature instead of an API key.
func (h *Handler) Routes(sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/payment-events", h.PaymentEvent)

		r.Group(func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeOrders, auth.ScopeAdmin))
			r.Get("/domains/search", h.SearchDomains)
			r.Get("/hosting-packages", h.ListHostingPackages)
			r.Get("/orders", h.ListMyOrders)
			r.Post("/orders", h.SubmitOrder)
			r.Get("/orders/{id}", h.GetOrder)
			r.Get("/orders/{id}/history", h.OrderHistory)
			r.Get("/orders/{id}/provisioning", h.OrderProvisioning)
			r.Post("/invoices/{id}/checkout", h.CreateCheckout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(sec.Require(auth.ScopeAdmin))
			r.Get("/orders", h.ListOrders)
			r.Post("/orders/{id}/approve", h.ApproveOrder)
			r.Post("/orders/{id}/reject", h.RejectOrder)
		})
	})
	return r
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}
