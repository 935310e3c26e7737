package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code sent in every error envelope
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	ErrCodeInvalidCreds  ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked ErrorCode = "ACCOUNT_LOCKED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"

	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound ErrorCode = "USER_NOT_FOUND"

	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeEmailExists  ErrorCode = "EMAIL_EXISTS"
	ErrCodeDoctorInCall ErrorCode = "DOCTOR_IN_CALL"

	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"

	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeValidation:        http.StatusBadRequest,
	ErrCodeUnauthorized:      http.StatusUnauthorized,
	ErrCodeInvalidToken:      http.StatusUnauthorized,
	ErrCodeInvalidCreds:      http.StatusUnauthorized,
	ErrCodeAccountLocked:     http.StatusTooManyRequests,
	ErrCodeForbidden:         http.StatusForbidden,
	ErrCodeNotFound:          http.StatusNotFound,
	ErrCodeUserNotFound:      http.StatusNotFound,
	ErrCodeConflict:          http.StatusConflict,
	ErrCodeEmailExists:       http.StatusConflict,
	ErrCodeDoctorInCall:      http.StatusConflict,
	ErrCodeRateLimitExceeded: http.StatusTooManyRequests,
	ErrCodeRequestTimeout:    http.StatusGatewayTimeout,
	ErrCodeInternal:          http.StatusInternalServerError,
	ErrCodeDatabase:          http.StatusInternalServerError,
	ErrCodeServiceUnavail:    http.StatusServiceUnavailable,
}

// Status returns the HTTP status a code is reported with. Unknown codes map to 500.
func Status(code ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is an error that knows how to be reported to a client. Err, when
// set, is the underlying cause; it is logged but never sent.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError whose status follows from code
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: Status(code)}
}

// Wrap is New with a cause attached
func Wrap(code ErrorCode, message string, err error) *AppError {
	e := New(code, message)
	e.Err = err
	return e
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidTokenError(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func InvalidCredentialsError() *AppError {
	return New(ErrCodeInvalidCreds, "Invalid credentials")
}

func AccountLockedError() *AppError {
	return New(ErrCodeAccountLocked, "Too many failed login attempts, try again later")
}

func ForbiddenError(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

// NotFoundError reports a missing resource, e.g. NotFoundError("Call")
func NotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, resource+" not found")
}

func UserNotFoundError() *AppError {
	return New(ErrCodeUserNotFound, "User not found")
}

func ConflictError(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func EmailExistsError() *AppError {
	return New(ErrCodeEmailExists, "Email already registered")
}

func DoctorInCallError() *AppError {
	return New(ErrCodeDoctorInCall, "Cannot change availability during an active call")
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", err)
}

// HasCode reports whether err or anything it wraps is an AppError with code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetAppError returns the AppError in err's chain, or an INTERNAL_ERROR
// wrapping err when there is none.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "Internal server error", err)
}
