package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single request or response record.
const DefaultMaxFrameBytes = 4 << 20

var (
	// ErrFrameTooLarge is returned by Reader.Next when a record exceeds the
	// configured limit. The stream cannot be resynchronized after it.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

	// ErrMalformed marks a frame that is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed frame")
)

// Reader splits a byte stream into JSON object records, independent of how
// the transport chunks the bytes. Whitespace between records is skipped; any
// other bytes outside an object come back as their own (malformed) frame so
// the caller can log them and keep going.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	sc := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxFrame {
		initial = maxFrame
	}
	sc.Buffer(make([]byte, 0, initial), maxFrame)
	sc.Split(SplitJSON)
	return &Reader{sc: sc}
}

// Next returns the next raw frame. It returns io.EOF when the peer closed the
// stream cleanly and the underlying transport error otherwise.
func (r *Reader) Next() ([]byte, error) {
	if r.sc.Scan() {
		frame := make([]byte, len(r.sc.Bytes()))
		copy(frame, r.sc.Bytes())
		return frame, nil
	}
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

// SplitJSON is a bufio.SplitFunc yielding one top-level JSON object per token.
func SplitJSON(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	if start == len(data) {
		return len(data), nil, nil
	}

	if data[start] != '{' {
		end := bytes.IndexByte(data[start:], '{')
		if end < 0 {
			return len(data), bytes.TrimSpace(data[start:]), nil
		}
		return start + end, bytes.TrimSpace(data[start : start+end]), nil
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, data[start : i+1], nil
			}
		}
	}

	if atEOF {
		// Truncated record; hand it over so it is reported as malformed.
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// RequestError reports a frame that is a JSON object but not a valid request,
// such as a method that is not a string. ID is the id recovered from the
// frame (0 when absent) so the caller can still answer it.
type RequestError struct {
	ID  json.RawMessage
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformed, e.Err)
}

func (e *RequestError) Unwrap() error {
	return ErrMalformed
}

// DecodeRequest parses one frame into a Request. A params value that is not
// an array is passed through as a single positional argument; a missing id
// is echoed as 0.
//
// A frame that is not a JSON object yields an error wrapping ErrMalformed. An
// object with mistyped fields yields a *RequestError carrying its id.
func DecodeRequest(frame []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := &Request{ID: fields["id"]}
	if len(req.ID) == 0 {
		req.ID = defaultID
	}
	invalid := func(field string, err error) (*Request, error) {
		return nil, &RequestError{ID: req.ID, Err: fmt.Errorf("%s: %v", field, err)}
	}

	if raw, ok := fields["jsonrpc"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.JSONRPC); err != nil {
			return invalid("jsonrpc", err)
		}
	}
	if raw, ok := fields["method"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.Method); err != nil {
			return invalid("method", err)
		}
	}

	params := bytes.TrimSpace(fields["params"])
	switch {
	case isNull(params):
		req.Params = []json.RawMessage{}
	case params[0] == '[':
		if err := json.Unmarshal(params, &req.Params); err != nil {
			return invalid("params", err)
		}
	default:
		req.Params = []json.RawMessage{params}
	}

	return req, nil
}

// EncodeResponse serializes resp and writes it to w in a single write.
func EncodeResponse(w io.Writer, resp *Response) error {
	if resp.JSONRPC == "" {
		resp.JSONRPC = Version
	}
	if resp.Error != nil {
		resp.Result = nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// EncodeRequest serializes req and writes it to w. Used by the host side.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Method == "" {
		return fmt.Errorf("request missing required field: method")
	}
	if req.Params == nil {
		req.Params = []json.RawMessage{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// DecodeResponse parses one frame into a Response and validates it.
func DecodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(resp.ID) == 0 {
		return nil, fmt.Errorf("response missing required field: id")
	}
	if resp.Error != nil && !isNull(resp.Result) {
		return nil, fmt.Errorf("response has both result and error")
	}
	if resp.Error != nil && *resp.Error == "" {
		return nil, fmt.Errorf("response has empty error message")
	}

	return &resp, nil
}
