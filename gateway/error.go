package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/zllovesuki/stylo/spec"
)

// Machine codes for failures that did not come from the gateway itself
const (
	CodeTimeout         = "timeout"
	CodeConnectionError = "connection_error"
	CodeUnknown         = "gateway_error"
)

// GenericMessage is shown when the gateway gave no decline reason
const GenericMessage = "Payment could not be processed, please try again"

// Error is the domain error of a failed gateway call
type Error struct {
	Message string          // User facing message, e.g. the decline reason
	Code    string          // Machine readable code
	Raw     spec.Parameters // Raw gateway response kept for audit
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// UserMessage returns Message, or GenericMessage when it is empty
func (e *Error) UserMessage() string {
	if e.Message == "" {
		return GenericMessage
	}
	return e.Message
}

// AsError normalizes any error from a Gateway into an *Error.
// Deadlines become CodeTimeout and other transport failures CodeConnectionError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var gErr *Error
	if errors.As(err, &gErr) {
		if gErr.Raw == nil {
			gErr.Raw = spec.Parameters{}
		}
		return gErr
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{
			Message: "The payment gateway did not respond in time",
			Code:    CodeTimeout,
			Raw:     spec.Parameters{"error": err.Error()},
		}
	case errors.As(err, &netErr), errors.Is(err, context.Canceled):
		return &Error{
			Message: "Cannot connect to the payment gateway",
			Code:    CodeConnectionError,
			Raw:     spec.Parameters{"error": err.Error()},
		}
	}
	return &Error{
		Message: GenericMessage,
		Code:    CodeUnknown,
		Raw:     spec.Parameters{"error": err.Error()},
	}
}
