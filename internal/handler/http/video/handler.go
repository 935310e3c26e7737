package video

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carelink-backend/internal/middleware"
	"carelink-backend/internal/service/video"
	"carelink-backend/pkg/pagination"
	"carelink-backend/pkg/response"
)

// Handler handles call history HTTP requests
type Handler struct {
	videoService *video.Service
}

// NewHandler creates a new video handler
func NewHandler(videoService *video.Service) *Handler {
	return &Handler{
		videoService: videoService,
	}
}

// ListCalls returns the caller's call history
// GET /api/v1/calls?page=1&limit=20
func (h *Handler) ListCalls(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	page, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	history, err := h.videoService.GetUserCallHistory(c.Request.Context(), userID, page)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, history)
}

// GetCall retrieves one call the caller took part in
// GET /api/v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	call, err := h.videoService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}
