package accounts

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"toker/token-portal/token-portal-backend/internal/auth"
)

// Handler exposes account registration.
type Handler struct {
	service *Service
	tokens  *auth.Manager
}

// NewHandler creates an accounts handler.
func NewHandler(service *Service, tokens *auth.Manager) *Handler {
	return &Handler{service: service, tokens: tokens}
}

// RegisterRoutes mounts the account endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/issuer", h.RegisterIssuer)
	r.POST("/collector", h.RegisterCollector)
}

type registerBody struct {
	Username string `json:"username" binding:"required"`
}

// RegisterIssuer handles POST /issuer.
func (h *Handler) RegisterIssuer(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	issuer, err := h.service.RegisterIssuer(c.Request.Context(), body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't create issuer."})
		return
	}

	token, err := h.tokens.IssuerToken(issuer.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't create issuer."})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"issuer": issuer, "jwt": token})
}

// RegisterCollector handles POST /collector.
func (h *Handler) RegisterCollector(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	collector, err := h.service.RegisterCollector(c.Request.Context(), body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't create collector."})
		return
	}

	token, err := h.tokens.CollectorToken(collector.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't create collector."})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"collector": collector, "jwt": token})
}
