package services

import (
	"errors"
	"fmt"
)

// Stable codes for user-facing rejections.
const (
	CodeMaintenance        = "maintenance"
	CodeInvalidPayload     = "invalid_payload"
	CodeNotFound           = "not_found"
	CodeNotOwner           = "not_owner"
	CodeInvalidState       = "invalid_state"
	CodeOrderTooOld        = "order_too_old"
	CodeProductUnavailable = "product_unavailable"
	CodeLimitExceeded      = "limit_exceeded"
	CodeInsufficientPoints = "insufficient_points"
)

// Codes for business-invariant violations.
const (
	CodeMultipleProducts  = "multiple_products"
	CodeNonPositivePoints = "non_positive_points"
	CodeMissingUser       = "missing_user"
	CodeDoubleRefund      = "double_refund"
)

// LogicError is a typed rejection: nothing was mutated and the caller may show Message.
type LogicError struct {
	Code    string
	Message string
	Err     error
}

func (e *LogicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *LogicError) Unwrap() error { return e.Err }

func logicErr(code, format string, args ...any) *LogicError {
	return &LogicError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FatalError is an invariant violation. The transaction that hit it is rolled back.
type FatalError struct {
	Code string
	Err  error
}

func (e *FatalError) Error() string {
	return "fatal " + e.Code + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

func IsLogic(err error, code string) bool {
	var le *LogicError
	return errors.As(err, &le) && le.Code == code
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
