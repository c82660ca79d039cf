// Package apperr holds the typed errors returned by the rewards core and
// their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so that detailed copies still match their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e carrying a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e with err attached as the cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func newErr(code string, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: status}
}

var (
	ErrInsufficientFunds    = newErr("insufficient_funds", http.StatusUnprocessableEntity, "balance is lower than the requested amount")
	ErrInsufficientPoints   = newErr("insufficient_points", http.StatusUnprocessableEntity, "not enough points for this checkout")
	ErrOutOfStock           = newErr("out_of_stock", http.StatusConflict, "product is out of stock")
	ErrProductUnavailable   = newErr("product_unavailable", http.StatusNotFound, "product is not available")
	ErrAlreadyRedeemed      = newErr("already_redeemed", http.StatusConflict, "product can only be redeemed once")
	ErrPremiumRequired      = newErr("premium_required", http.StatusForbidden, "an active premium subscription is required")
	ErrLimitExceeded        = newErr("limit_exceeded", http.StatusTooManyRequests, "daily limit reached")
	ErrRedemptionNotFound   = newErr("redemption_not_found", http.StatusNotFound, "redemption not found")
	ErrCartItemNotFound     = newErr("cart_item_not_found", http.StatusNotFound, "cart item not found")
	ErrRedemptionNotDigital = newErr("redemption_not_digital", http.StatusBadRequest, "only digital redemptions can be self-confirmed")
	ErrRedemptionExpired    = newErr("redemption_expired", http.StatusGone, "redemption code has expired")
	ErrNotAvailable         = newErr("not_available", http.StatusConflict, "coupon is not available")
	ErrSubscriptionExists   = newErr("subscription_exists", http.StatusConflict, "user already has an active or pending subscription")
	ErrSubscriptionNotFound = newErr("subscription_not_found", http.StatusNotFound, "subscription not found")
	ErrValidation           = newErr("validation_error", http.StatusBadRequest, "invalid input")
	ErrForbidden            = newErr("forbidden", http.StatusForbidden, "operation not allowed")
	ErrInternal             = newErr("internal_error", http.StatusInternalServerError, "internal error")
)

// Validation returns an ErrValidation carrying msg.
func Validation(format string, args ...any) *Error {
	return ErrValidation.Withf(format, args...)
}

// Internal wraps a store or infrastructure failure. Typed errors pass through
// untouched.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return ErrInternal.Wrap(err)
}

// RetryableInternal marks err as a transient failure the caller may retry.
func RetryableInternal(err error) error {
	e := ErrInternal.Wrap(err)
	e.Message = "transaction could not be committed, retry the request"
	e.Retryable = true
	return e
}

// Retryable reports whether err may succeed if the whole operation is retried.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Status maps err onto an HTTP status code. Untyped errors are 500.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Code returns the machine readable code for err.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// Message returns the client-safe message for err. Causes of internal errors
// are never exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
