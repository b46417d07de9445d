package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"toker/token-portal/token-portal-backend/internal/auth"
)

// Handler exposes the collection endpoints.
type Handler struct {
	issuance *IssuanceService
	tokens   *auth.Manager
}

// NewHandler creates a catalog handler.
func NewHandler(issuance *IssuanceService, tokens *auth.Manager) *Handler {
	return &Handler{issuance: issuance, tokens: tokens}
}

// RegisterRoutes mounts the collection endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	group := r.Group("/collection")
	group.POST("", h.tokens.RequireIssuer(), h.Issue)
	group.GET("", h.tokens.RequireIssuer(), h.ListMine)
	group.GET("/:id", h.Get)

	// Public explore surface.
	r.GET("/explore/collections", h.Explore)
}

// Issue handles POST /collection.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed", "details": err.Error()})
		return
	}

	collection, err := h.issuance.IssueCollection(c.Request.Context(), req, auth.IssuerID(c))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "Success in issuing token!", "collection": collection})
}

// ListMine handles GET /collection.
func (h *Handler) ListMine(c *gin.Context) {
	collections, err := h.issuance.ListCollectionsByIssuer(c.Request.Context(), auth.IssuerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't retrieve collections."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}

// Get handles GET /collection/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid collection id."})
		return
	}

	collection, err := h.issuance.GetCollection(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Couldn't retrieve collection with that id."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": collection})
}

// Explore handles GET /explore/collections.
func (h *Handler) Explore(c *gin.Context) {
	collections, err := h.issuance.ListCollections(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Couldn't retrieve collections."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": collections})
}
