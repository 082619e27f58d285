package response

import "fmt"

// Error is the JSON error envelope returned by the billing router.
// Code is a machine readable reason, e.g. a gateway decline code.
type Error struct {
	StatusCode int         `json:"-"`
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"error"`
	Messages   []string    `json:"messages"`
	Result     interface{} `json:"result"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func (e *Error) WithResult(result interface{}) *Error {
	e.Result = result
	return e
}

func newError(status int, msg string) *Error {
	return &Error{
		StatusCode: status,
		Message:    msg,
		Messages:   make([]string, 0),
		Result:     []string{},
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return newError(500, "An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return newError(400, "Bad request")
}

func ErrNotFound() *Error {
	return newError(404, "Requested resources not found")
}

func ErrConflict() *Error {
	return newError(409, "Conflict")
}

func ErrUnprocessable() *Error {
	return newError(422, "Request cannot be processed")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().WithCode("invalid_json").AddMessages("Invalid JSON body")
}

func ErrValidation(err error) *Error {
	return ErrBadRequest().WithCode("validation_failed").AddMessages(err.Error())
}

// ErrPayment reports a charge or card the gateway refused
func ErrPayment(code, userMessage string) *Error {
	return ErrUnprocessable().WithCode(code).AddMessages(userMessage)
}
