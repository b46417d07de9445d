package transfers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toker/token-portal/token-portal-backend/internal/auth"
)

// Handler exposes the external transfer endpoint.
type Handler struct {
	workflow *Workflow
	tokens   *auth.Manager
}

// NewHandler creates a transfers handler.
func NewHandler(workflow *Workflow, tokens *auth.Manager) *Handler {
	return &Handler{workflow: workflow, tokens: tokens}
}

// RegisterRoutes mounts the transfer endpoint; it requires an issuer JWT.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/transfer", h.tokens.RequireIssuer(), h.TransferOut)
}

type transferBody struct {
	CollectionID uint   `json:"collection_id" binding:"required"`
	TokenID      uint   `json:"token_id" binding:"required"`
	Destination  string `json:"destination_wallet" binding:"required"`
}

// TransferOut handles POST /transfer.
func (h *Handler) TransferOut(c *gin.Context) {
	var body transferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	result, err := h.workflow.TransferOut(c.Request.Context(), Request{
		CollectionID: body.CollectionID,
		TokenID:      body.TokenID,
		IssuerID:     auth.IssuerID(c),
		Destination:  body.Destination,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't perform external token transfer."})
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message, "code": result.Code})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Message})
}
