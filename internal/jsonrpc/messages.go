package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ProtocolVersion is the only accepted value of the jsonrpc member.
const ProtocolVersion = "2.0"

// Kind classifies a decoded message.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// AnyMessage is any JSON-RPC message as read off the wire.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Decode parses one message and checks its shape: a method excludes result
// and error, and a response carries exactly one of them.
func Decode(data []byte) (*AnyMessage, error) {
	var m AnyMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}
	if m.JSONRPCVersion != ProtocolVersion {
		return nil, errors.Newf("unsupported jsonrpc version %q", m.JSONRPCVersion)
	}
	hasResult, hasError := len(m.Result) > 0, m.Error != nil
	switch {
	case m.Method != "" && (hasResult || hasError):
		return nil, errors.New("request carries a result or error")
	case m.Method == "" && hasResult == hasError:
		return nil, errors.New("response must carry exactly one of result and error")
	}
	return &m, nil
}

// Kind reports whether m is a request, a notification or a response.
func (m *AnyMessage) Kind() Kind {
	switch {
	case m.Method == "":
		return KindResponse
	case m.ID == nil:
		return KindNotification
	default:
		return KindRequest
	}
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

// NewResultResponse builds a successful response.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "marshal result")
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id *RequestID, e *Error) *Response {
	return &Response{JSONRPCVersion: ProtocolVersion, Error: e, ID: id}
}

// Notification is a JSON-RPC message that expects no reply.
type Notification struct {
	JSONRPCVersion string `json:"jsonrpc"`
	Method         string `json:"method"`
	Params         any    `json:"params,omitempty"`
}

// NewNotification builds a notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPCVersion: ProtocolVersion, Method: method, Params: params}
}
