package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the engine and the HTTP layer.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeLimitReached  = "LIMIT_REACHED"
	CodeConflict      = "CONFLICT"
	CodeNotFound      = "NOT_FOUND"
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeExternal      = "EXTERNAL_FAILURE"
	CodePersistence   = "PERSISTENCE_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
)

// Sentinels usable with errors.Is against any *AppError carrying the same code.
var (
	ErrValidation    = &AppError{Code: CodeValidation}
	ErrLimitReached  = &AppError{Code: CodeLimitReached}
	ErrConflict      = &AppError{Code: CodeConflict}
	ErrNotFound      = &AppError{Code: CodeNotFound}
	ErrConfiguration = &AppError{Code: CodeConfiguration}
	ErrExternal      = &AppError{Code: CodeExternal}
	ErrPersistence   = &AppError{Code: CodePersistence}
	ErrUnauthorized  = &AppError{Code: CodeUnauthorized}
)

// Conflict reasons reported by the state machine.
const (
	ReasonIllegalTransition = "illegal transition"
	ReasonAlreadyReviewed   = "already reviewed"
	ReasonArtifactChanged   = "artifact changed"
	ReasonNothingToResend   = "nothing to resend"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code, so callers can compare against the sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewConflictError(reason string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: reason,
	}
}

func NewLimitReachedError(limit int) *AppError {
	return &AppError{
		Code:    CodeLimitReached,
		Message: fmt.Sprintf("active request limit of %d reached", limit),
	}
}

func NewConfigurationError(message string) *AppError {
	return &AppError{
		Code:    CodeConfiguration,
		Message: message,
	}
}

func NewExternalError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeExternal,
		Message: operation + " failed",
		Err:     err,
	}
}

func NewPersistenceError(err error) *AppError {
	return &AppError{
		Code:    CodePersistence,
		Message: "Persistence failure",
		Err:     err,
	}
}

// StatusFor maps an error to the HTTP status the API layer reports.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeLimitReached:
		return fiber.StatusTooManyRequests
	case CodeConflict:
		return fiber.StatusConflict
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusForbidden
	case CodeExternal:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodePersistence {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
