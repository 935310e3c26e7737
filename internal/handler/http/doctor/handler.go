package doctor

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carelink-backend/internal/domain"
	"carelink-backend/internal/middleware"
	"carelink-backend/internal/service/user"
	"carelink-backend/pkg/response"
)

// Handler handles doctor directory and status requests
type Handler struct {
	userService *user.Service
}

// NewHandler creates a new doctor handler
func NewHandler(userService *user.Service) *Handler {
	return &Handler{
		userService: userService,
	}
}

// UpdateStatusRequest represents a doctor availability change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ONLINE BUSY"`
}

// ListDoctors returns doctors, optionally filtered by availability
// GET /api/v1/doctors?availability=ONLINE|BUSY
func (h *Handler) ListDoctors(c *gin.Context) {
	// Unrecognised filter values are ignored
	var filter domain.Availability
	if v := domain.Availability(strings.ToUpper(c.Query("availability"))); v.Valid() {
		filter = v
	}

	doctors, err := h.userService.ListDoctors(c.Request.Context(), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"doctors": doctors})
}

// UpdateStatus changes the calling doctor's availability
// POST /api/v1/doctors/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	doctorID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "status must be ONLINE or BUSY")
		return
	}

	doctor, err := h.userService.UpdateDoctorStatus(c.Request.Context(), doctorID, domain.Availability(req.Status))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":           doctor.UserID,
		"availability": doctor.Availability,
	})
}
