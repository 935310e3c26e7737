package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextName   = "name"
	ContextToken  = "token"
)

// TokenVerifier resolves a bearer token into an identity.
// Implementations are expected to check signature, expiry and revocation.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.Identity, error)
}

// AuthMiddleware creates a Gin middleware that validates bearer tokens.
// If valid, it sets user_id, role, name and token in the Gin context.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])

		identity, err := verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), identity.UserID.String()))
		c.Set(ContextUserID, identity.UserID)
		c.Set(ContextRole, identity.Role)
		c.Set(ContextName, identity.Name)
		c.Set(ContextToken, tokenString)
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role is not role.
// Must run after AuthMiddleware.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r, ok := c.Get(ContextRole); !ok || r.(domain.Role) != role {
			response.Forbidden(c, "Insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id
func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
