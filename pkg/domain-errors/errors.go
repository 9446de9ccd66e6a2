// Package domainerrors carries coded errors across service boundaries so
// transport layers can translate them without inspecting message text.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies the category of a domain error.
type Code string

const (
	// CodeNotFound covers both true absence and visibility failures; the two
	// are indistinguishable to callers so owner scoping leaks nothing.
	CodeNotFound Code = "not_found"

	// CodeConstraintViolation marks quantity, multiplier bound, or field-length
	// violations detected before any mutation.
	CodeConstraintViolation Code = "constraint_violation"

	// CodeEligibility marks binds blocked by consumer type, virt-only, or
	// guest-mapping rules.
	CodeEligibility Code = "eligibility_violation"

	// CodeMultiEntitlement marks a duplicate bind against a pool whose product
	// does not allow multi-entitlement.
	CodeMultiEntitlement Code = "multi_entitlement_violation"

	// CodeConflict marks duplicate resource creation or a manifest signature
	// conflict without an override flag.
	CodeConflict Code = "conflict"

	// CodeGone marks operations against a resource that existed but was
	// deleted, distinct from never-existed.
	CodeGone Code = "gone"

	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal"
)

// DomainError is the concrete error type services return. Wrap infrastructure
// failures with CodeInternal; construct validation failures with New.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// New constructs a coded error without an underlying cause.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches a code and context message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &DomainError{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in a service.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to its transport status. The mapping lives here so
// every handler renders the same envelope.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConstraintViolation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeEligibility:
		return http.StatusForbidden
	case CodeMultiEntitlement, CodeConflict:
		return http.StatusConflict
	case CodeGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
