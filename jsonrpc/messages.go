// Package jsonrpc models the JSON-RPC 2.0 payloads exchanged between peers
// once they have been decrypted.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// ErrNoResult reports a response that carries neither a result nor an error.
var ErrNoResult = errors.New("jsonrpc: response has neither result nor error")

// Kind classifies a decoded payload.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
	KindInvalid  Kind = "invalid"
)

// Request is a JSON-RPC request. Ids are numeric.
type Request struct {
	ID             uint64          `json:"id"`
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	ID             uint64          `json:"id"`
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// NewRequest builds a request with a fresh id. Params are encoded as a JSON
// array; no params yields an empty array.
func NewRequest(method string, params ...any) (*Request, error) {
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Request{
		ID:             NewID(),
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		Params:         raw,
	}, nil
}

// DecodeParams decodes the positional params into the given targets. Missing
// trailing params leave their targets untouched.
func (r *Request) DecodeParams(targets ...any) error {
	if len(r.Params) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(r.Params, &list); err != nil {
		return fmt.Errorf("params must be an array: %w", err)
	}
	for i, target := range targets {
		if i >= len(list) {
			break
		}
		if err := json.Unmarshal(list[i], target); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id uint64, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		ID:             id,
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response.
func NewErrorResponse(id uint64, rpcErr *Error) *Response {
	if rpcErr == nil {
		rpcErr = NewError(ErrorCodeServerError, "")
	}
	return &Response{
		ID:             id,
		JSONRPCVersion: ProtocolVersion,
		Error:          rpcErr,
	}
}

// Validate reports whether the response carries exactly one of result or error.
func (r *Response) Validate() error {
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	switch {
	case hasResult && hasError:
		return fmt.Errorf("jsonrpc: response %d has both result and error", r.ID)
	case !hasResult && !hasError:
		return ErrNoResult
	}
	return nil
}

// AnyMessage is any decrypted payload: a request, a response, or an internal
// event carrying an `event` name.
type AnyMessage struct {
	ID             uint64          `json:"id,omitempty"`
	JSONRPCVersion string          `json:"jsonrpc,omitempty"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	Event          string          `json:"event,omitempty"`
}

// UnmarshalJSON decodes the message and rejects structurally impossible
// combinations. A response lacking both result and error is accepted here so
// the receiver can fail the matching call instead of dropping it.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type rawMessage AnyMessage

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if hasMethod || hasResult || hasError {
		if raw.JSONRPCVersion != ProtocolVersion {
			return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
		}
	}
	if hasMethod && (hasResult || hasError) {
		return fmt.Errorf("request message cannot have result or error fields")
	}
	if hasResult && hasError {
		return fmt.Errorf("response message cannot have both result and error fields")
	}

	*m = AnyMessage(raw)
	return nil
}

// Kind classifies the message: method-bearing payloads are requests, payloads
// with an event name are internal events, and anything else that carries an id
// is treated as a response.
func (m *AnyMessage) Kind() Kind {
	switch {
	case m.Method != "":
		return KindRequest
	case m.Event != "":
		return KindEvent
	case m.ID != 0:
		return KindResponse
	default:
		return KindInvalid
	}
}

// AsRequest returns the message as a Request if it is a request message, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}

	return &Request{
		ID:             m.ID,
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
	}
}

// AsResponse returns the message as a Response if it is a response message, otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		ID:             m.ID,
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
	}
}
