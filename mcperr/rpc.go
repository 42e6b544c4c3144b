package mcperr

// RPCCode is a JSON-RPC 2.0 error code.
type RPCCode int

const (
	RPCParseError     RPCCode = -32700
	RPCInvalidRequest RPCCode = -32600
	RPCMethodNotFound RPCCode = -32601
	RPCInvalidParams  RPCCode = -32602
	RPCInternalError  RPCCode = -32603
	// RPCResourceNotFound is the protocol's code for an unknown resource URI.
	RPCResourceNotFound RPCCode = -32002
)

// RPCCodeOf maps err onto the JSON-RPC code a transport should send.
func RPCCodeOf(err error) RPCCode {
	switch CodeOf(err) {
	case CodeNotFound:
		return RPCMethodNotFound
	case CodeValidation, CodeAmbiguousMatch:
		return RPCInvalidParams
	default:
		return RPCInternalError
	}
}

// RPCError is the JSON-RPC error object for err.
type RPCError struct {
	Code    RPCCode `json:"code"`
	Message string  `json:"message"`
	Data    any     `json:"data,omitempty"`
}

// ToRPC converts err into an RPCError. Validation failures carry their field
// list as data.
func ToRPC(err error) *RPCError {
	if err == nil {
		return nil
	}
	out := &RPCError{Code: RPCCodeOf(err), Message: err.Error()}
	if e, ok := As(err); ok {
		if len(e.Fields) > 0 {
			out.Data = map[string]any{"code": e.Code, "fields": e.Fields}
		} else {
			out.Data = map[string]any{"code": e.Code}
		}
	}
	return out
}
