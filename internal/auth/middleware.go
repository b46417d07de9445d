package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextIssuerID is the gin context key for the verified issuer.
	ContextIssuerID = "issuer_id"
	// ContextCollectorID is the gin context key for the verified collector.
	ContextCollectorID = "collector_id"
)

// RequireIssuer verifies the Authorization header holds an issuer token.
func (m *Manager) RequireIssuer() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.verifyHeader(c)
		if claims == nil || claims.IssuerID == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access Denied"})
			return
		}
		c.Set(ContextIssuerID, claims.IssuerID)
		c.Next()
	}
}

// RequireCollector verifies the Authorization header holds a collector token.
func (m *Manager) RequireCollector() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := m.verifyHeader(c)
		if claims == nil || claims.CollectorID == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access Denied"})
			return
		}
		c.Set(ContextCollectorID, claims.CollectorID)
		c.Next()
	}
}

func (m *Manager) verifyHeader(c *gin.Context) *Claims {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil
	}
	claims, err := m.Verify(header)
	if err != nil {
		return nil
	}
	return claims
}

// CollectorID returns the verified collector from the request context.
func CollectorID(c *gin.Context) uint {
	return c.GetUint(ContextCollectorID)
}

// IssuerID returns the verified issuer from the request context.
func IssuerID(c *gin.Context) uint {
	return c.GetUint(ContextIssuerID)
}
