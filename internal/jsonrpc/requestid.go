package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// RequestID is a JSON-RPC id: a string or an integer.
type RequestID struct {
	str   string
	num   int64
	isNum bool
}

// StringID returns a string request id.
func StringID(s string) *RequestID { return &RequestID{str: s} }

// NumberID returns a numeric request id.
func NumberID(n int64) *RequestID { return &RequestID{num: n, isNum: true} }

// String renders the id's text. "1" and 1 render the same; use Key to tell
// them apart.
func (id *RequestID) String() string {
	if id == nil {
		return ""
	}
	if id.isNum {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// Key returns a string that identifies the request in flight. It carries the
// id's form, so "1" and 1 are distinct requests.
func (id *RequestID) Key() string {
	if id == nil {
		return ""
	}
	if id.isNum {
		return "n:" + strconv.FormatInt(id.num, 10)
	}
	return "s:" + id.str
}

// MarshalJSON writes the id in the form it was received.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil {
		return []byte("null"), nil
	}
	if id.isNum {
		return strconv.AppendInt(nil, id.num, 10), nil
	}
	return json.Marshal(id.str)
}

// UnmarshalJSON accepts a JSON string or integer.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Wrap(err, "request id")
		}
		*id = RequestID{str: s}
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.Newf("request id must be a string or integer, got %s", data)
	}
	*id = RequestID{num: n, isNum: true}
	return nil
}
