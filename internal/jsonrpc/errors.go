package jsonrpc

import "github.com/ggoodman/mcp-dispatch-go/mcperr"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// FromError converts a dispatch failure into the error object sent to the
// peer. The dispatch code, and any field failures, travel in Data.
func FromError(err error) *Error {
	rpc := mcperr.ToRPC(err)
	if rpc == nil {
		return nil
	}
	return &Error{Code: ErrorCode(rpc.Code), Message: rpc.Message, Data: rpc.Data}
}
