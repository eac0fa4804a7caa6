package http

import (
	"log/slog"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"globlept.co.uk/app/internal/http/handlers"
	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/authz"
)

// Deps is everything the HTTP layer needs from the composition root.
type Deps struct {
	DB     *gorm.DB
	Tokens *middleware.TokenVerifier

	Prescriptions *prescriptions.Service
	Review        *prescriptions.ReviewService
	Fulfillment   *orders.FulfillmentService

	Intents    *payments.IntentService
	Reconciler *payments.Reconciler
	Webhooks   *payments.WebhookService
	Refunds    *payments.RefundService
	Processors []payments.Processor

	// Sentry mounts the sentry-go gin integration. Requires sentry.Init.
	Sentry bool
}

func NewRouter(logger *slog.Logger, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.ErrorHandler(logger),
		middleware.Recovery(logger),
	)
	if d.Sentry {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(middleware.Identity(d.Tokens))

	health := handlers.NewHealthHandler(d.DB)
	r.GET("/healthz", health.Check)

	rx := handlers.NewPrescriptionsHandler(d.Prescriptions)
	review := handlers.NewReviewHandler(d.Review, d.Prescriptions)
	pay := handlers.NewPaymentsHandler(d.Intents, d.Reconciler, d.Prescriptions)
	wh := handlers.NewWebhooksHandler(d.Webhooks, logger, d.Processors...)
	ord := handlers.NewOrdersHandler(d.Fulfillment, d.Refunds)

	api := r.Group("/api/v1")

	// Authenticated by signature, not by token.
	api.POST("/webhooks/:provider", wh.Receive)

	authed := api.Group("", middleware.RequireRole(authz.Anyone...))
	staff := middleware.RequireRole(authz.Staff...)
	admins := middleware.RequireRole(authz.Admins...)

	p := authed.Group("/prescriptions")
	{
		p.POST("", rx.Submit)
		p.GET("", rx.List)
		p.GET("/:id", rx.Get)
		p.GET("/:id/events", rx.History)
		p.POST("/:id/cancel", rx.Cancel)
		p.DELETE("/:id", admins, rx.Delete)

		p.POST("/:id/price", staff, review.SetPrice)
		p.POST("/:id/approve", staff, review.Approve)
		p.POST("/:id/reject", staff, review.Reject)
		p.POST("/:id/processing", staff, review.MarkProcessing)
		p.POST("/:id/ready", staff, review.MarkReady)
		p.POST("/:id/assign", admins, review.Assign)

		p.POST("/:id/payment-intent", pay.CreateIntent)
		p.POST("/:id/confirm-payment", pay.ConfirmPayment)
	}

	shipping := middleware.RequireRole(authz.Shipping...)
	o := authed.Group("/orders")
	{
		o.GET("", ord.List)
		o.GET("/:id", ord.Get)
		o.GET("/:id/ledger", staff, ord.Ledger)
		o.POST("/:id/processing", shipping, ord.MarkProcessing)
		o.POST("/:id/dispatch", shipping, ord.Dispatch)
		o.POST("/:id/deliver", shipping, ord.Deliver)
		o.POST("/:id/refund", middleware.RequireRole(authz.Refunds...), ord.Refund)
	}

	return r
}
