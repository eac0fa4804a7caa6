package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/shared/apperr"
)

const maxWebhookBody = 1 << 20

// WebhooksHandler receives processor callbacks. Only a bad signature or a
// storage failure produce a non-2xx answer; the latter asks for redelivery.
type WebhooksHandler struct {
	Providers map[string]payments.Processor
	Svc       *payments.WebhookService
	Logger    *slog.Logger
}

func NewWebhooksHandler(svc *payments.WebhookService, logger *slog.Logger, providers ...payments.Processor) *WebhooksHandler {
	m := make(map[string]payments.Processor, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &WebhooksHandler{Providers: m, Svc: svc, Logger: logger}
}

func (h *WebhooksHandler) Receive(c *gin.Context) {
	name := c.Param("provider")
	p, ok := h.Providers[name]
	if !ok {
		middleware.Fail(c, apperr.NotFoundErr("Unknown payment provider."))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		middleware.Fail(c, apperr.InvalidErr("Request body could not be read.", nil))
		return
	}

	ev, err := p.ParseWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.WarnContext(c.Request.Context(), "webhook rejected",
			"provider", name, "request_id", middleware.GetRequestID(c), "err", err)
		middleware.Fail(c, &apperr.AppError{Kind: apperr.Invalid, PublicMsg: "Invalid webhook signature.", Err: err})
		return
	}

	if err := h.Svc.Handle(c.Request.Context(), name, ev, body); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
