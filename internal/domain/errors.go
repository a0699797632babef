package domain

import (
	"errors"
	"fmt"
)

// Stable error codes returned to clients next to the HTTP status.
const (
	CodeValidation            = "validation_error"
	CodeNotFound              = "not_found"
	CodeNotAuthorized         = "not_authorized"
	CodeInsufficientInventory = "insufficient_inventory"
	CodeInvalidDeparture      = "invalid_departure"
	CodeVendorNotFound        = "vendor_not_found"
	CodeRouteNotBookable      = "route_not_bookable"
	CodeAlreadyProcessed      = "already_processed"
	CodeAlreadyPaid           = "already_paid"
	CodeNotPayable            = "not_payable"
	CodePaymentNotCompleted   = "payment_not_completed"
	CodeAlreadyRefunded       = "already_refunded"
	CodeNotRefundable         = "not_refundable"
	CodeInventoryOverflow     = "inventory_overflow"
	CodeInvalidState          = "invalid_state"
	CodeGateway               = "gateway_error"
	CodeInternal              = "internal_error"
)

// DomainError keeps backward compatibility for generic codes.
type DomainError struct {
	Code string
	Err  error
}

func (e DomainError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	if e.Code == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e DomainError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	Resource string
	Code     string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Code  string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

// AuthorizationError means the caller is authenticated but is not the
// resource's owner or lacks the role for the action.
type AuthorizationError struct {
	Action string
	Msg    string
}

func (e AuthorizationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Action != "" {
		return fmt.Sprintf("not authorized to %s", e.Action)
	}
	return "not authorized"
}

type ConflictError struct {
	Resource string
	Code     string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// UpstreamError wraps a payment gateway failure. Msg is safe to show to
// clients; Err carries the gateway detail for logs only.
type UpstreamError struct {
	Op  string
	Msg string
	Err error
}

func (e UpstreamError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "payment gateway unavailable"
}

func (e UpstreamError) Unwrap() error { return e.Err }

// InvariantError is a hard failure: the requested change would break a
// storage invariant (negative or overflowing inventory, foreign session).
type InvariantError struct {
	Code string
	Msg  string
	Err  error
}

func (e InvariantError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "invariant violation"
}

func (e InvariantError) Unwrap() error { return e.Err }

type InternalError struct {
	Msg string
	Err error
}

func (e InternalError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func (e InternalError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target AuthorizationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target UpstreamError
	return errors.As(err, &target)
}

func IsInvariant(err error) bool {
	var target InvariantError
	return errors.As(err, &target)
}

func IsInternal(err error) bool {
	var target InternalError
	return errors.As(err, &target)
}

// CodeOf returns the stable client code carried by err, or "" when err is
// not a domain error.
func CodeOf(err error) string {
	var (
		nf  NotFoundError
		val ValidationError
		cf  ConflictError
		inv InvariantError
		de  DomainError
	)
	switch {
	case errors.As(err, &val):
		return firstCode(val.Code, CodeValidation)
	case errors.As(err, &nf):
		return firstCode(nf.Code, CodeNotFound)
	case IsAuthorization(err):
		return CodeNotAuthorized
	case errors.As(err, &cf):
		return firstCode(cf.Code, "conflict")
	case IsUpstream(err):
		return CodeGateway
	case errors.As(err, &inv):
		return firstCode(inv.Code, CodeInvalidState)
	case IsInternal(err):
		return CodeInternal
	case errors.As(err, &de):
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries the given client code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func firstCode(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}
