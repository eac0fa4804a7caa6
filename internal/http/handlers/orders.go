package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/pkg/view"
)

type OrdersHandler struct {
	Svc       *orders.FulfillmentService
	RefundSvc *payments.RefundService
}

func NewOrdersHandler(svc *orders.FulfillmentService, refundSvc *payments.RefundService) *OrdersHandler {
	return &OrdersHandler{Svc: svc, RefundSvc: refundSvc}
}

type dispatchRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required,max=64"`
	Courier        string `json:"courier" binding:"required,max=64"`
}

type refundRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (h *OrdersHandler) respond(c *gin.Context, o orders.Order, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.NewOrder(o))
}

// List shows customers their own orders; staff may search all of them.
func (h *OrdersHandler) List(c *gin.Context) {
	actor := actorOf(c)
	in := orders.ListParams{
		CustomerID: queryUint(c, "customer_id"),
		Q:          strings.TrimSpace(c.Query("q")),
		Status:     orders.Status(strings.TrimSpace(c.Query("status"))),
		Page:       parseInt(c.Query("page"), 1),
		PageSize:   parseInt(c.Query("page_size"), defaultPageSize),
	}

	res, err := h.Svc.List(c.Request.Context(), actor, in)
	if err != nil {
		fail(c, err)
		return
	}
	items := make([]view.Order, 0, len(res.Items))
	for _, o := range res.Items {
		items = append(items, view.NewOrder(o))
	}
	c.JSON(http.StatusOK, view.Page[view.Order]{Items: items, Total: res.Total, Page: res.Page, PageSize: res.PageSize})
}

func (h *OrdersHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.Svc.Get(c.Request.Context(), actorOf(c), id)
	h.respond(c, o, err)
}

func (h *OrdersHandler) Ledger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.Svc.Ledger(c.Request.Context(), actorOf(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": view.NewLedger(entries)})
}

func (h *OrdersHandler) MarkProcessing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.Svc.MarkProcessing(c.Request.Context(), actorOf(c), id)
	h.respond(c, o, err)
}

func (h *OrdersHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dispatchRequest
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.Svc.Dispatch(c.Request.Context(), actorOf(c), id, orders.Tracking{
		Number:  strings.TrimSpace(req.TrackingNumber),
		Courier: strings.TrimSpace(req.Courier),
	})
	h.respond(c, o, err)
}

func (h *OrdersHandler) Deliver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.Svc.Deliver(c.Request.Context(), actorOf(c), id)
	h.respond(c, o, err)
}

func (h *OrdersHandler) Refund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if h.RefundSvc == nil {
		middleware.Fail(c, apperr.ProviderUnavailableErr("Refunds are not available.", nil))
		return
	}
	res, err := h.RefundSvc.Refund(c.Request.Context(), actorOf(c), id, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.NewRefund(res))
}
