package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/shared/apperr"
	"globlept.co.uk/app/internal/shared/money"
)

// ReviewHandler exposes the pharmacist workflow.
type ReviewHandler struct {
	Svc  *prescriptions.ReviewService
	Read *prescriptions.Service
}

func NewReviewHandler(svc *prescriptions.ReviewService, read *prescriptions.Service) *ReviewHandler {
	return &ReviewHandler{Svc: svc, Read: read}
}

// Prices decode from a JSON number or a decimal string.
type priceRequest struct {
	Price *decimal.Decimal `json:"price" binding:"required"`
}

type approveRequest struct {
	Price *decimal.Decimal `json:"price"`
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type assignRequest struct {
	StaffID uint64 `json:"staff_id" binding:"required"`
}

func (h *ReviewHandler) respond(c *gin.Context, p prescriptions.Prescription, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewPrescriptionsHandler(h.Read).present(p))
}

func checkPrice(c *gin.Context, d decimal.Decimal) (decimal.Decimal, bool) {
	if err := money.ValidatePrice(d); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Some fields are invalid.", map[string]string{"price": err.Error()}))
		return decimal.Zero, false
	}
	return d, true
}

func (h *ReviewHandler) SetPrice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req priceRequest
	if !bindJSON(c, &req) {
		return
	}
	price, ok := checkPrice(c, *req.Price)
	if !ok {
		return
	}
	p, err := h.Svc.SetPrice(c.Request.Context(), actorOf(c), id, price)
	h.respond(c, p, err)
}

// Approve takes an optional price; an empty body approves at the current one.
func (h *ReviewHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	var price *decimal.Decimal
	if req.Price != nil {
		d, ok := checkPrice(c, *req.Price)
		if !ok {
			return
		}
		price = &d
	}
	p, err := h.Svc.Approve(c.Request.Context(), actorOf(c), id, price)
	h.respond(c, p, err)
}

func (h *ReviewHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.Svc.Reject(c.Request.Context(), actorOf(c), id, req.Reason)
	h.respond(c, p, err)
}

func (h *ReviewHandler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.Svc.AssignStaff(c.Request.Context(), actorOf(c), id, req.StaffID)
	h.respond(c, p, err)
}

func (h *ReviewHandler) MarkProcessing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.Svc.MarkProcessing(c.Request.Context(), actorOf(c), id)
	h.respond(c, p, err)
}

func (h *ReviewHandler) MarkReady(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.Svc.MarkReady(c.Request.Context(), actorOf(c), id)
	h.respond(c, p, err)
}
