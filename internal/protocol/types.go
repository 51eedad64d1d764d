package protocol

import (
	"bytes"
	"encoding/json"
)

// Version is the value of the jsonrpc field on every response.
const Version = "2.0"

// defaultID is echoed when a request carries no id. The stock host always
// sends one; this mirrors its fallback.
var defaultID = json.RawMessage("0")

// Request is one RPC call received from the host.
type Request struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Response is the reply to exactly one Request. Result and Error are always
// serialized (as null when absent) and are never both non-null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *string         `json:"error"`
}

// NewResponse builds a response for id. A non-empty errMsg wins over result.
func NewResponse(id json.RawMessage, result json.RawMessage, errMsg *string) *Response {
	resp := &Response{JSONRPC: Version, ID: id}
	if errMsg != nil {
		msg := *errMsg
		resp.Error = &msg
		return resp
	}
	if !isNull(result) {
		resp.Result = result
	}
	return resp
}

// ErrorResponse builds a failed response for id.
func ErrorResponse(id json.RawMessage, msg string) *Response {
	return NewResponse(id, nil, &msg)
}

// Failed reports whether the call failed. The error slot is the only failure
// signal; result must be ignored when it is set.
func (r *Response) Failed() bool {
	return r.Error != nil
}

// HasResult reports whether the response carries a non-null result.
func (r *Response) HasResult() bool {
	return !r.Failed() && !isNull(r.Result)
}

// DecodeResult unmarshals the result into v.
func (r *Response) DecodeResult(v any) error {
	if !r.HasResult() {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
