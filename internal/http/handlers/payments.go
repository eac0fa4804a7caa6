package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/pkg/view"
)

type PaymentsHandler struct {
	Intents    *payments.IntentService
	Reconciler *payments.Reconciler
	Read       *prescriptions.Service
}

func NewPaymentsHandler(intents *payments.IntentService, r *payments.Reconciler, read *prescriptions.Service) *PaymentsHandler {
	return &PaymentsHandler{Intents: intents, Reconciler: r, Read: read}
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"max=128"`
}

func (h *PaymentsHandler) CreateIntent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.Intents.CreateIntent(c.Request.Context(), actorOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	c.JSON(status, view.NewPaymentIntent(res))
}

// ConfirmPayment is called when the customer returns from checkout. A
// payment already reconciled by the webhook still answers 200.
func (h *PaymentsHandler) ConfirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	res, err := h.Reconciler.ConfirmPayment(c.Request.Context(), actorOf(c), id, req.PaymentIntentID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.PaymentConfirmation{
		AlreadyReconciled: res.AlreadyReconciled,
		Prescription:      view.NewPrescription(res.Prescription, h.Read.DocumentURL),
		Order:             view.NewOrder(res.Order),
	})
}
