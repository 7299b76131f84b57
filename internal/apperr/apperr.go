// Package apperr defines the error taxonomy shared by the ledger, the order
// coordinator, the reconciliation worker and the HTTP layer.
//
// Every failure is a sentinel wrapped with fmt.Errorf("...: %w", ...) so
// callers branch on errors.Is instead of matching messages.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDailyLimitExceeded   = errors.New("daily limit exceeded")
	ErrAlreadyApplied       = errors.New("ledger entry already applied with a different amount")
	ErrNothingToRefund      = errors.New("no debit to refund")
	ErrLedgerConflict       = errors.New("ledger conflict")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrStaleTransition      = errors.New("order status changed concurrently")
	ErrRequestInProgress    = errors.New("request with this idempotency key is in progress")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrProviderRejected     = errors.New("provider rejected order")
	ErrProviderOrderMissing = errors.New("provider has no record of order")
	ErrNotDelivered         = errors.New("request was not delivered to provider")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrEventMismatch        = errors.New("status event does not match order")
	ErrRefundFailed         = errors.New("refund failed")
)

// Kind is a stable, machine readable name for an error class.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidRequest      Kind = "invalid_request"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindDailyLimit          Kind = "daily_limit_exceeded"
	KindAlreadyApplied      Kind = "already_applied"
	KindNothingToRefund     Kind = "nothing_to_refund"
	KindLedgerConflict      Kind = "ledger_conflict"
	KindNotFound            Kind = "not_found"
	KindStaleTransition     Kind = "stale_transition"
	KindInProgress          Kind = "in_progress"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderRejected    Kind = "provider_rejected"
	KindInvalidSignature    Kind = "invalid_webhook_signature"
	KindEventMismatch       Kind = "event_mismatch"
	KindRefundFailed        Kind = "refund_failed"
	KindTimeout             Kind = "timeout"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Wrapped chains are inspected in order of
// specificity, so a refund failure caused by a ledger conflict is reported
// as a refund failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone

	case errors.Is(err, ErrRefundFailed):
		return KindRefundFailed

	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSignature

	case errors.Is(err, ErrEventMismatch):
		return KindEventMismatch

	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownProvider):
		return KindInvalidRequest

	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds

	case errors.Is(err, ErrDailyLimitExceeded):
		return KindDailyLimit

	case errors.Is(err, ErrAlreadyApplied):
		return KindAlreadyApplied

	case errors.Is(err, ErrNothingToRefund):
		return KindNothingToRefund

	case errors.Is(err, ErrLedgerConflict):
		return KindLedgerConflict

	case errors.Is(err, ErrWalletNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrProviderOrderMissing):
		return KindNotFound

	case errors.Is(err, ErrStaleTransition):
		return KindStaleTransition

	case errors.Is(err, ErrRequestInProgress):
		return KindInProgress

	case errors.Is(err, ErrProviderRejected):
		return KindProviderRejected

	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout

	case errors.Is(err, context.Canceled):
		return KindCanceled

	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status code returned by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindInvalidRequest, KindAlreadyApplied, KindEventMismatch:
		return http.StatusBadRequest
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindInsufficientFunds, KindDailyLimit, KindProviderRejected:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindInProgress, KindStaleTransition:
		return http.StatusConflict
	case KindProviderUnavailable, KindLedgerConflict:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCanceled:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether repeating the failed operation with the same
// idempotency key may succeed. Business outcomes are final; infrastructure
// failures are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindLedgerConflict, KindProviderUnavailable, KindInternal, KindRefundFailed:
		return true
	default:
		return false
	}
}
