package routing

import (
	"errors"
	"fmt"
)

// Kind classifies a routing failure for callers.
type Kind string

const (
	KindInput       Kind = "input"
	KindOracle      Kind = "oracle"
	KindInfeasible  Kind = "infeasible"
	KindPersistence Kind = "persistence"
)

// Error codes.
const (
	CodeMerchantNotFound            = "merchant_not_found"
	CodeMerchantLocationUnavailable = "merchant_location_unavailable"
	CodeNoLocatableOrders           = "no_locatable_orders"
	CodeInvalidDate                 = "invalid_date"
	CodeOrderNotFound               = "order_not_found"
	CodeLocationUnavailable         = "location_unavailable"
	CodeNoRoute                     = "no_route"
	CodeOracleFailed                = "oracle_failed"
	CodeInfeasible                  = "infeasible"
	CodePersistenceFailed           = "persistence_failed"
)

type Error struct {
	Kind      Kind
	Code      string
	Message   string
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

func inputError(code, msg string, err error) *Error {
	return &Error{Kind: KindInput, Code: code, Message: msg, Err: err}
}

func oracleError(code, msg string, err error) *Error {
	return &Error{Kind: KindOracle, Code: code, Message: msg, Retryable: true, Err: err}
}

func infeasibleError(msg string, err error) *Error {
	return &Error{Kind: KindInfeasible, Code: CodeInfeasible, Message: msg, Err: err}
}

func persistenceError(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodePersistenceFailed, Message: msg, Retryable: true, Err: err}
}

// AsError extracts a routing error from err.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
