package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pipeline"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/venue"
)

type OrderHandler struct {
	dispatcher *pipeline.Dispatcher
	pipeline   *pipeline.Pipeline
}

func NewOrderHandler(dispatcher *pipeline.Dispatcher, p *pipeline.Pipeline) *OrderHandler {
	return &OrderHandler{dispatcher: dispatcher, pipeline: p}
}

func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidOrder, err.Error(), err)) //nolint:errcheck
		return
	}

	order, err := h.dispatcher.Submit(c.Request.Context(), req)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.pipeline.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.pipeline.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, order)
}

// venueUpdateRequest is the callback body venue adapters post when an order
// changes state on the venue side.
type venueUpdateRequest struct {
	VenueID         string          `json:"venue_id" binding:"required"`
	ExternalOrderID string          `json:"external_order_id" binding:"required"`
	Status          string          `json:"status" binding:"required"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	AveragePrice    decimal.Decimal `json:"average_price"`
}

func (h *OrderHandler) VenueUpdate(c *gin.Context) {
	var req venueUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidOrder, err.Error(), err)) //nolint:errcheck
		return
	}

	err := h.pipeline.HandleVenueUpdate(c.Request.Context(), req.VenueID, req.ExternalOrderID, venue.OrderStatus{
		Status:       req.Status,
		FilledAmount: req.FilledAmount,
		AveragePrice: req.AveragePrice,
	})
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}
