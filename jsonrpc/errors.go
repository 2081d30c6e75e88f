package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeServerError is the generic implementation-defined error. Wallets
	// use it when the user declines a request.
	ErrorCodeServerError ErrorCode = -32000
)

var defaultMessages = map[ErrorCode]string{
	ErrorCodeParseError:     "Parse error",
	ErrorCodeInvalidRequest: "Invalid request",
	ErrorCodeMethodNotFound: "Method not found",
	ErrorCodeInvalidParams:  "Invalid params",
	ErrorCodeInternalError:  "Internal error",
	ErrorCodeServerError:    "Server error",
}

// Error is a JSON-RPC error object. It satisfies the error interface so that
// remote failures can be returned from calls unchanged.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewError builds an Error. An empty message is replaced by the standard text
// for the code.
func NewError(code ErrorCode, message string) *Error {
	if message == "" {
		message = defaultMessages[code]
	}
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
