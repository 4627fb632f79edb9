package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPendingTransaction is returned when a device has nothing in flight
	ErrNoPendingTransaction = errors.New("no pending transaction")
	// ErrTransactionInFlight rejects a second purchase while the first is unresolved
	ErrTransactionInFlight = errors.New("a transaction is already awaiting payment")
	// ErrTransactionExpired marks a record discarded by the 24h staleness rule
	ErrTransactionExpired = errors.New("transaction expired")
	// ErrAlreadyReconciled marks a duplicate notification for a settled token
	ErrAlreadyReconciled = errors.New("transaction already reconciled")
)

// GatewayError is a transport or HTTP failure calling the payment API
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// MalformedDeepLinkError means every extraction strategy failed
type MalformedDeepLinkError struct {
	URL     string
	Missing []string
}

func (e *MalformedDeepLinkError) Error() string {
	return fmt.Sprintf("invalid payment response: missing %v", e.Missing)
}

// CorruptedLocalStateError means the stored PendingTransaction could not be decoded
type CorruptedLocalStateError struct {
	Raw string
	Err error
}

func (e *CorruptedLocalStateError) Error() string {
	return fmt.Sprintf("corrupted transaction data: %v", e.Err)
}

func (e *CorruptedLocalStateError) Unwrap() error { return e.Err }

// GatewayReportedFailure is an explicit FAILED status or HTTP >= 400 from a status query
type GatewayReportedFailure struct {
	Result *TransactionStatusResult
}

func (e *GatewayReportedFailure) Error() string {
	if e.Result == nil {
		return "payment failed"
	}
	if msg := e.Result.Diagnostic(); msg != "" {
		return fmt.Sprintf("payment failed: %s", msg)
	}
	if e.Result.HTTPStatus >= 400 {
		return fmt.Sprintf("payment failed: gateway returned status %d", e.Result.HTTPStatus)
	}
	return "payment failed"
}

// TimeoutExceeded means the polling budget ran out without a terminal result
type TimeoutExceeded struct {
	Attempts  int
	LastError error
}

func (e *TimeoutExceeded) Error() string {
	if e.LastError != nil {
		return fmt.Sprintf("payment confirmation timed out after %d attempts: %v", e.Attempts, e.LastError)
	}
	return fmt.Sprintf("payment confirmation timed out after %d attempts", e.Attempts)
}

func (e *TimeoutExceeded) Unwrap() error { return e.LastError }

// User-facing messages
const (
	MsgMalformedDeepLink = "Invalid payment response - missing required parameters"
	MsgCorruptedState    = "Corrupted transaction data"
	MsgMismatchedPayment = "Payment response does not match your pending transaction"
	MsgTimeout           = "We could not confirm your payment yet. Please check your transaction status"
	MsgExpired           = "Transaction expired"
	MsgInFlight          = "You have a payment awaiting confirmation"
	MsgGeneric           = "Something went wrong processing your payment"
)

// UserMessage converts any reconciliation error into text safe to show on a device
func UserMessage(err error) string {
	var (
		malformed *MalformedDeepLinkError
		corrupted *CorruptedLocalStateError
		reported  *GatewayReportedFailure
		timeout   *TimeoutExceeded
		gateway   *GatewayError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed):
		return MsgMalformedDeepLink
	case errors.As(err, &corrupted):
		return MsgCorruptedState
	case errors.As(err, &reported):
		if reported.Result != nil && reported.Result.Diagnostic() != "" {
			return reported.Result.Diagnostic()
		}
		return "Payment failed"
	case errors.As(err, &timeout):
		if timeout.LastError != nil {
			return fmt.Sprintf("%s (%s)", MsgTimeout, UserMessage(timeout.LastError))
		}
		return MsgTimeout
	case errors.Is(err, ErrTransactionExpired):
		return MsgExpired
	case errors.Is(err, ErrTransactionInFlight):
		return MsgInFlight
	case errors.As(err, &gateway):
		return "Payment service unavailable"
	default:
		return MsgGeneric
	}
}
