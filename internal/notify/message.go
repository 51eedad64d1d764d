package notify

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is what every channel delivers.
type Message struct {
	ID        string          `json:"id"`
	Plugin    string          `json:"plugin"`
	Subject   string          `json:"subject,omitempty"`
	Text      string          `json:"text"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// newMessage builds a Message from a JSON document. A JSON string becomes the
// text as is; any other document is kept as the payload and its compact form
// becomes the text.
func newMessage(plugin, prefix, subject string, doc json.RawMessage) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Plugin:    plugin,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}

	doc = bytes.TrimSpace(doc)
	var text string
	switch {
	case len(doc) == 0 || bytes.Equal(doc, []byte("null")):
	case doc[0] == '"' && json.Unmarshal(doc, &text) == nil:
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, doc); err == nil {
			doc = buf.Bytes()
		}
		msg.Payload = doc
		text = string(doc)
	}

	if prefix != "" {
		text = prefix + " " + text
	}
	msg.Text = text
	return msg
}
