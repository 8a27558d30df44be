package execution

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide whether it is fatal,
// recoverable, or retryable.
type Kind string

const (
	KindUnknown                 Kind = "UNKNOWN"
	KindService                 Kind = "SERVICE"
	KindMalformedRequirement    Kind = "MALFORMED_REQUIREMENT"
	KindEstimation              Kind = "ESTIMATION"
	KindGasShortfall            Kind = "GAS_SHORTFALL"
	KindSigning                 Kind = "SIGNING"
	KindBroadcast               Kind = "BROADCAST"
	KindNoExecutableTransaction Kind = "NO_EXECUTABLE_TRANSACTION"
	KindTransactionReverted     Kind = "TRANSACTION_REVERTED"
	KindInsufficientBalance     Kind = "INSUFFICIENT_BALANCE"
	KindChainRead               Kind = "CHAIN_READ"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrService                 = &Error{Kind: KindService}
	ErrMalformedRequirement    = &Error{Kind: KindMalformedRequirement}
	ErrEstimation              = &Error{Kind: KindEstimation}
	ErrGasShortfall            = &Error{Kind: KindGasShortfall}
	ErrSigning                 = &Error{Kind: KindSigning}
	ErrBroadcast               = &Error{Kind: KindBroadcast}
	ErrNoExecutableTransaction = &Error{Kind: KindNoExecutableTransaction}
	ErrTransactionReverted     = &Error{Kind: KindTransactionReverted}
	ErrInsufficientBalance     = &Error{Kind: KindInsufficientBalance}
	ErrChainRead               = &Error{Kind: KindChainRead}
)

// Error is the error type returned by the execution engine and by gateways
// that can classify their own failures.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Receipt is set for reverted transactions.
	Receipt *Receipt
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// GasShortfall marks err as a gas-shortfall failure. Gateways use it to
// report structured classifications instead of relying on message matching.
func GasShortfall(op string, err error) *Error {
	return NewError(KindGasShortfall, op, err)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ServiceError is returned when the quote/plan service is unreachable or
// rejects a request. Body holds the service response verbatim.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("quote service unreachable: %v", e.Err)
	}
	return fmt.Sprintf("quote service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is makes every ServiceError match ErrService.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindService
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var svc *ServiceError
	if errors.As(err, &svc) {
		return KindService
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// gasShortfallSignatures are matched against error text when the gateway
// did not classify the failure itself.
var gasShortfallSignatures = []string{
	"out of gas",
	"gas limit",
	"intrinsic gas too low",
	"gas required exceeds allowance",
	"unpredictable_gas_limit",
	"cannot estimate gas",
}

// blockGasLimitSignature marks a transaction larger than a whole block. A
// higher limit cannot help, so it is never a shortfall.
const blockGasLimitSignature = "exceeds block gas limit"

// IsGasShortfall reports whether err is a gas-shortfall failure, either by
// structured kind or by message signature.
func IsGasShortfall(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGasShortfall) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, blockGasLimitSignature) {
		return false
	}
	for _, sig := range gasShortfallSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
