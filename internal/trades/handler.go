package trades

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"toker/token-portal/token-portal-backend/internal/auth"
)

// Handler exposes the trade endpoints.
type Handler struct {
	workflow *Workflow
	tokens   *auth.Manager
}

// NewHandler creates a trades handler.
func NewHandler(workflow *Workflow, tokens *auth.Manager) *Handler {
	return &Handler{workflow: workflow, tokens: tokens}
}

// RegisterRoutes mounts the trade endpoints; all require a collector JWT.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	group := r.Group("/trade", h.tokens.RequireCollector())
	group.POST("", h.Propose)
	group.GET("", h.List)
	group.PUT("/:id/accept", h.Accept)
	group.PUT("/:id/decline", h.Decline)
	group.DELETE("/:id", h.Cancel)
}

type sideBody struct {
	CollectorID uint      `json:"collector_id" binding:"required"`
	OfferWei    int64     `json:"offer_wei"`
	Offers      []ItemRef `json:"offers"`
}

type proposeBody struct {
	Trader sideBody `json:"trader" binding:"required"`
	Tradee sideBody `json:"tradee" binding:"required"`
}

// Propose handles POST /trade.
func (h *Handler) Propose(c *gin.Context) {
	var body proposeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}
	// Only the trader may open a trade in their name.
	if body.Trader.CollectorID != auth.CollectorID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to issue this trade request."})
		return
	}

	tradeID, result, err := h.workflow.Propose(c.Request.Context(), ProposeRequest{
		TraderID:       body.Trader.CollectorID,
		TradeeID:       body.Tradee.CollectorID,
		TraderOfferWei: body.Trader.OfferWei,
		TradeeOfferWei: body.Tradee.OfferWei,
		TraderItems:    body.Trader.Offers,
		TradeeItems:    body.Tradee.Offers,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't create trade request."})
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message, "code": result.Code})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": result.Message, "trade_id": tradeID})
}

// List handles GET /trade.
func (h *Handler) List(c *gin.Context) {
	tradeList, err := h.workflow.ListForCollector(c.Request.Context(), auth.CollectorID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't retrieve trades."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": tradeList})
}

// Accept handles PUT /trade/:id/accept.
func (h *Handler) Accept(c *gin.Context) {
	h.resolve(c, func(tradeID uuid.UUID) (Result, error) {
		return h.workflow.Accept(c.Request.Context(), tradeID, auth.CollectorID(c))
	})
}

// Decline handles PUT /trade/:id/decline.
func (h *Handler) Decline(c *gin.Context) {
	h.resolve(c, func(tradeID uuid.UUID) (Result, error) {
		return h.workflow.Decline(c.Request.Context(), tradeID, auth.CollectorID(c))
	})
}

// Cancel handles DELETE /trade/:id.
func (h *Handler) Cancel(c *gin.Context) {
	h.resolve(c, func(tradeID uuid.UUID) (Result, error) {
		return h.workflow.Cancel(c.Request.Context(), tradeID, auth.CollectorID(c))
	})
}

func (h *Handler) resolve(c *gin.Context, op func(uuid.UUID) (Result, error)) {
	tradeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid trade id."})
		return
	}

	result, err := op(tradeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't process trade request."})
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message, "code": result.Code})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Message})
}
