package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) StatusCode() int {
	return e.Status
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(model, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", model, id),
	}
}

func UnknownModelError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_MODEL",
		Status:  404,
		Message: fmt.Sprintf("Unknown model: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func ConflictError(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

func GenerationError(msg string) *AppError {
	return &AppError{Code: "GENERATION_FAILED", Status: 500, Message: msg}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

// FieldDetails converts compiler and validator problems into response details.
func FieldDetails(problems []metadata.FieldError) []ErrorDetail {
	details := make([]ErrorDetail, len(problems))
	for i, p := range problems {
		details[i] = ErrorDetail{Field: p.Field, Rule: p.Rule, Message: p.Message}
	}
	return details
}

// ErrorHandler renders *AppError values with their status and hides
// everything else behind a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
		})
	}
	log.Printf("ERROR: %s %s (trace %s): %v", c.Method(), c.Path(), instrument.GetTraceID(c.UserContext()), err)
	return c.Status(500).JSON(ErrorResponse{
		Error: &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error"},
	})
}
