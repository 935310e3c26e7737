package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carelink-backend/internal/middleware"
	"carelink-backend/internal/service/user"
	"carelink-backend/pkg/response"
)

// Handler serves the user directory
type Handler struct {
	userService *user.Service
}

// NewHandler creates a new user handler
func NewHandler(userService *user.Service) *Handler {
	return &Handler{userService: userService}
}

// ListUsers returns the public profile of every user
// GET /api/v1/users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userService.ListPublicUsers(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"users": users})
}

// Me returns the caller's own account
// GET /api/v1/users/me
func (h *Handler) Me(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	profile, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}
