package claims

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toker/token-portal/token-portal-backend/internal/auth"
	"toker/token-portal/token-portal-backend/pkg/geospatial"
)

// Handler exposes the claim endpoints.
type Handler struct {
	workflow *Workflow
	tokens   *auth.Manager
}

// NewHandler creates a claims handler.
func NewHandler(workflow *Workflow, tokens *auth.Manager) *Handler {
	return &Handler{workflow: workflow, tokens: tokens}
}

// RegisterRoutes mounts the claim endpoints; all require a collector JWT.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	group := r.Group("/claim", h.tokens.RequireCollector())
	group.POST("", h.Claim)
	group.POST("/qr", h.ClaimQR)
}

type claimBody struct {
	CollectionID uint              `json:"collection_id" binding:"required"`
	Location     *geospatial.Point `json:"location" binding:"required"`
	Constraints  Answers           `json:"constraints"`
}

type qrClaimBody struct {
	JWT string `json:"jwt" binding:"required"`
}

// Claim handles POST /claim.
func (h *Handler) Claim(c *gin.Context) {
	var body claimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	result, err := h.workflow.Claim(c.Request.Context(), Request{
		CollectionID: body.CollectionID,
		CollectorID:  auth.CollectorID(c),
		Location:     body.Location,
		Answers:      body.Constraints,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't process claim."})
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message, "code": result.Code})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": result.Message})
}

// ClaimQR handles POST /claim/qr. The body carries the JWT scanned from
// the printed code, which names the exact token being claimed.
func (h *Handler) ClaimQR(c *gin.Context) {
	var body qrClaimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	claims, err := h.tokens.Verify(body.JWT)
	if err != nil || claims.CollectionID == 0 || claims.TokenID == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access Denied"})
		return
	}

	result, err := h.workflow.ClaimByQR(c.Request.Context(), QRRequest{
		CollectionID: claims.CollectionID,
		TokenID:      *claims.TokenID,
		CollectorID:  auth.CollectorID(c),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't process claim."})
		return
	}
	if !result.OK {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.Message, "code": result.Code})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": result.Message})
}
