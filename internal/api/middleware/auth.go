package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/intelliaflow/IAIMMOBOT/internal/auth"
)

// ContextKeyAgencyID holds the key for the acting agency in Gin context.
const ContextKeyAgencyID = "agencyID"

// AgencyMiddleware resolves the acting agency. With a JWT secret configured a valid Bearer token is
// required; otherwise every request acts as defaultAgencyID. No resolvable agency means 401.
func AgencyMiddleware(jwtSecret string, defaultAgencyID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSecret == "" {
			if defaultAgencyID <= 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Agency identity required"})
				return
			}
			c.Set(ContextKeyAgencyID, defaultAgencyID)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("Invalid or expired token: %v", err)})
			return
		}

		c.Set(ContextKeyAgencyID, claims.AgencyID)
		c.Next()
	}
}

// AgencyID returns the agency set by AgencyMiddleware.
func AgencyID(c *gin.Context) (int, bool) {
	id := c.GetInt(ContextKeyAgencyID)
	return id, id > 0
}
