package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	intakedomain "github.com/smallbiznis/instructorledger/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	reminderdomain "github.com/smallbiznis/instructorledger/internal/reminder/domain"
	reportingdomain "github.com/smallbiznis/instructorledger/internal/reporting/domain"
	settlementdomain "github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors carries field level failures produced by request parsing.
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

// errorClass maps a family of sentinel errors onto one HTTP response.
type errorClass struct {
	status  int
	kind    string
	message string
	members []error
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized, authorization.ErrInvalidActor,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		ErrForbidden, authorization.ErrForbidden,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ledgerdomain.ErrObligationNotFound,
		ledgerdomain.ErrSplitNotFound,
		compdomain.ErrProfileNotFound,
		settlementdomain.ErrBatchNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusConflict, "invalid_transition", "obligation status does not allow this change", []error{
		ledgerdomain.ErrInvalidTransition,
	}},
	{http.StatusConflict, "conflict", "conflict", []error{
		ledgerdomain.ErrConcurrencyConflict,
		ledgerdomain.ErrDuplicateSplit,
		ledgerdomain.ErrDuplicateObligation,
		ledgerdomain.ErrSplitAlreadyPaidOut,
		compdomain.ErrProfileConflict,
		gorm.ErrDuplicatedKey,
	}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests", []error{ErrRateLimited}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{ErrServiceUnavailable}},
}

// domainValidationErrors are reported as a single field error parsed from the
// error text.
var domainValidationErrors = []error{
	ledgerdomain.ErrValidation,
	compdomain.ErrValidation,
	settlementdomain.ErrValidation,
	reportingdomain.ErrValidation,
	intakedomain.ErrValidation,
	reminderdomain.ErrInvalidObligation,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var internalPayload = errorPayload{Type: "internal_error", Message: "internal server error"}

// ErrorHandlingMiddleware renders the last handler error unless a response
// has already been written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
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
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload
	}

	var fieldErrs *ValidationErrors
	if errors.As(err, &fieldErrs) && fieldErrs != nil {
		return http.StatusBadRequest, validationPayload(fieldErrs.Errors)
	}
	if isAny(err, domainValidationErrors) {
		return http.StatusBadRequest, validationPayload([]ValidationError{validationDetail(err)})
	}

	var notSettleable *settlementdomain.NotSettleableError
	if errors.As(err, &notSettleable) {
		details := make([]ValidationError, 0, len(notSettleable.ObligationIDs))
		for _, id := range notSettleable.ObligationIDs {
			details = append(details, ValidationError{
				Field:   "obligation_ids",
				Code:    "not_settleable",
				Message: id.String(),
			})
		}
		return http.StatusConflict, errorPayload{
			Type:    "not_settleable",
			Message: "obligations are not open",
			Errors:  details,
		}
	}

	for _, class := range errorClasses {
		if isAny(err, class.members) {
			return class.status, errorPayload{Type: class.kind, Message: class.message}
		}
	}
	return http.StatusInternalServerError, internalPayload
}

func validationPayload(details []ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: "validation error", Errors: details}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// validationDetail turns "validation_error: field[ detail]" into a field error.
func validationDetail(err error) ValidationError {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "validation_error: "); ok {
		msg = rest
	}
	field := msg
	if i := strings.IndexAny(field, " :"); i >= 0 {
		field = field[:i]
	}
	field = strings.TrimPrefix(field, "invalid_")
	return ValidationError{
		Field:   field,
		Code:    "invalid_" + field,
		Message: msg,
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return payload.Type, "internal"
	case len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	default:
		return payload.Type, payload.Type
	}
}
