package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	activitydomain "github.com/smallbiznis/printora/internal/activity/domain"
	inventorydomain "github.com/smallbiznis/printora/internal/inventory/domain"
	materialdomain "github.com/smallbiznis/printora/internal/material/domain"
	orderdomain "github.com/smallbiznis/printora/internal/order/domain"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
	"github.com/smallbiznis/printora/internal/pricing"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, orderdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isInvalidStateError(err):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: err.Error(),
		}
	case isInsufficientResourceError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_resource",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		// Storage-layer failures stay opaque to the caller.
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger a coarse type and code
// without touching response mapping.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, "internal"
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, materialdomain.ErrInvalidCode),
		errors.Is(err, materialdomain.ErrInvalidName),
		errors.Is(err, materialdomain.ErrInvalidUnitPrice),
		errors.Is(err, materialdomain.ErrInvalidID),
		errors.Is(err, inventorydomain.ErrInvalidMaterial),
		errors.Is(err, inventorydomain.ErrInvalidWidth),
		errors.Is(err, inventorydomain.ErrInvalidLength),
		errors.Is(err, inventorydomain.ErrInvalidRollID),
		errors.Is(err, inventorydomain.ErrEmptyBatch),
		errors.Is(err, orderdomain.ErrInvalidID),
		errors.Is(err, orderdomain.ErrInvalidClient),
		errors.Is(err, orderdomain.ErrInvalidDetail),
		errors.Is(err, orderdomain.ErrInvalidPageToken),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidMethod),
		errors.Is(err, activitydomain.ErrInvalidAction),
		errors.Is(err, activitydomain.ErrInvalidTimeRange),
		errors.Is(err, activitydomain.ErrInvalidPageToken),
		errors.Is(err, pricing.ErrInvalidDimension),
		errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrInvalidUnitPrice):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, materialdomain.ErrNotFound),
		errors.Is(err, inventorydomain.ErrMaterialNotFound),
		errors.Is(err, inventorydomain.ErrRollNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, materialdomain.ErrDuplicateCode),
		errors.Is(err, materialdomain.ErrMaterialReferenced),
		errors.Is(err, inventorydomain.ErrDuplicateUsage),
		errors.Is(err, inventorydomain.ErrRollConflict),
		errors.Is(err, orderdomain.ErrOrderHasPayments),
		errors.Is(err, orderdomain.ErrDuplicateOrderNo):
		return true
	default:
		return false
	}
}

func isInvalidStateError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrIllegalTransition),
		errors.Is(err, orderdomain.ErrNotDeletable),
		errors.Is(err, inventorydomain.ErrRollInactive),
		errors.Is(err, paymentdomain.ErrOrderNotPayable),
		errors.Is(err, paymentdomain.ErrOrderNotRevertible):
		return true
	default:
		return false
	}
}

func isInsufficientResourceError(err error) bool {
	switch {
	case errors.Is(err, inventorydomain.ErrInsufficientLength),
		errors.Is(err, inventorydomain.ErrInsufficientStock),
		errors.Is(err, inventorydomain.ErrNoStockConfigured),
		errors.Is(err, paymentdomain.ErrOverpayment),
		errors.Is(err, paymentdomain.ErrInsufficientTender):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == "invalid_request" {
		return "request"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
