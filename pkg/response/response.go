package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "carelink-backend/pkg/errors"
	"carelink-backend/pkg/logger"
)

// Response is the envelope every REST reply is wrapped in
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func meta(c *gin.Context) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString("request_id"),
	}
}

// Success writes data with the given status
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta(c)})
}

// Error writes an error envelope
func Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Response{
		Error: &ErrorDetail{Code: code, Message: message},
		Meta:  meta(c),
	})
}

func fromCode(c *gin.Context, code apperrors.ErrorCode, message string) {
	Error(c, apperrors.Status(code), string(code), message)
}

// FromError writes the envelope for err. AppErrors below 500 are reported as
// they are; anything else is logged with its cause and answered with a
// generic INTERNAL_ERROR.
func FromError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.StatusCode < http.StatusInternalServerError {
		Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
		return
	}

	logger.FromContext(c.Request.Context()).Error("Request failed",
		zap.String("code", string(appErr.Code)),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	if appErr.Code == apperrors.ErrCodeServiceUnavail {
		ServiceUnavailable(c, appErr.Message)
		return
	}
	InternalError(c, "Internal server error")
}

func ValidationError(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeValidation, message)
}

func Unauthorized(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeForbidden, message)
}

func TooManyRequests(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeRateLimitExceeded, message)
}

func GatewayTimeout(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeRequestTimeout, message)
}

func InternalError(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeInternal, message)
}

func ServiceUnavailable(c *gin.Context, message string) {
	fromCode(c, apperrors.ErrCodeServiceUnavail, message)
}
