package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args are the positional parameters of one call, still JSON-encoded.
type Args []json.RawMessage

// Raw returns argument i, or nil when the caller did not send it.
func (a Args) Raw(i int) json.RawMessage {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// IsNull reports whether argument i is missing or JSON null.
func (a Args) IsNull(i int) bool {
	raw := bytes.TrimSpace(a.Raw(i))
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// String decodes argument i as a JSON string. A null argument yields "".
func (a Args) String(i int) (string, error) {
	if a.IsNull(i) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(a.Raw(i), &s); err != nil {
		return "", fmt.Errorf("argument %d: want string: %w", i, err)
	}
	return s, nil
}

// JSON returns argument i as a JSON document. Hosts usually pass documents as
// JSON text inside a string argument; such strings are unwrapped and must hold
// valid JSON. Any other value is returned as is. Null, an empty string and a
// missing argument all yield nil.
func (a Args) JSON(i int) (json.RawMessage, error) {
	if a.IsNull(i) {
		return nil, nil
	}
	raw := bytes.TrimSpace(a.Raw(i))
	if raw[0] != '"' {
		return raw, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("argument %d: %w", i, err)
	}
	inner := bytes.TrimSpace([]byte(text))
	if len(inner) == 0 {
		return nil, nil
	}
	if !json.Valid(inner) {
		return nil, fmt.Errorf("argument %d: invalid JSON text", i)
	}
	return inner, nil
}

// Decode unmarshals the JSON document in argument i (see JSON) into v. A null
// argument leaves v untouched.
func (a Args) Decode(i int, v any) error {
	doc, err := a.JSON(i)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}
