package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the API taxonomy.
type Kind int

const (
	// KindInternal is anything not classified; it is never shown to clients.
	KindInternal Kind = iota
	// KindValidation marks malformed or missing input.
	KindValidation
	// KindNotFound marks an absent or soft-deleted entity.
	KindNotFound
	// KindConflict marks a state conflict or locked field.
	KindConflict
	// KindUnauthorized marks a missing or invalid identity.
	KindUnauthorized
	// KindForbidden marks a permission or approval-gate failure.
	KindForbidden
)

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel kinds usable with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Stable error codes returned to API callers.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidStatus          = "INVALID_STATUS"
	CodeDuplicateCode          = "DUPLICATE_CODE"
	CodeReferenceViolation     = "REFERENCE_VIOLATION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeItemPolicyLocked       = "ITEM_POLICY_LOCKED"
	CodeItemHasMovement        = "ITEM_HAS_MOVEMENT"
	CodeGroupHasItems          = "GROUP_HAS_ITEMS"
	CodeApprovalRequired       = "APPROVAL_REQUIRED"
	CodePriceNotFound          = "PRICE_NOT_FOUND"
	CodeAlreadyInvoiced        = "ALREADY_INVOICED"
	CodeInvoiceHasPayments     = "INVOICE_HAS_PAYMENTS"
	CodeLocked                 = "LOCKED_BY_OTHER_USER"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is a classified domain error whose message is safe to show to clients.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Entity   string
	EntityID string
	Field    string
	Fields   []string
	Hint     string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrForbidden:
		return e.Kind == KindForbidden
	}
	return false
}

// WithHint sets a human-actionable suggestion.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithEntity tags the error with the entity it concerns.
func (e *Error) WithEntity(entity string, id any) *Error {
	e.Entity = entity
	e.EntityID = fmt.Sprint(id)
	return e
}

// Validation builds a validation error for a single field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidationFailed, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for an entity.
func NotFound(entity string, id any) *Error {
	return &Error{
		Kind:     KindNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %v not found", entity, id),
		Entity:   entity,
		EntityID: fmt.Sprint(id),
	}
}

// Conflict builds a conflict error with a stable code.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatus builds a conflict naming the current status of the entity.
func InvalidStatus(entity string, id any, format string, args ...any) *Error {
	return Conflict(CodeInvalidStatus, format, args...).WithEntity(entity, id)
}

// Forbidden builds an authorization error.
func Forbidden(code, format string, args ...any) *Error {
	if code == "" {
		code = CodeForbidden
	}
	return &Error{Kind: KindForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an authentication error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a classified error from the chain.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
