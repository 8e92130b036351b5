package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the closed set of relay message types.
type Kind int

const (
	// KindUnhandled is any message whose type is missing or unknown. The raw
	// type string is kept in [Message.Type].
	KindUnhandled Kind = iota

	// KindQuery carries a command for the assistant. It is the only kind a
	// consumer may execute.
	KindQuery

	// KindResponse carries the assistant's reply.
	KindResponse

	// KindAction reports an action the assistant took.
	KindAction

	// KindConfirmation asks for or reports a confirmation.
	KindConfirmation

	// KindTranscript is display-only and must never be executed.
	KindTranscript
)

var kindNames = map[Kind]string{
	KindQuery:        "query",
	KindResponse:     "response",
	KindAction:       "action",
	KindConfirmation: "confirmation",
	KindTranscript:   "transcript",
}

// String returns the wire name of k, or "unhandled".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unhandled"
}

// ParseKind maps a wire type to its Kind. Unknown names yield [KindUnhandled].
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnhandled
}

// Message is one decoded relay message.
type Message struct {
	Kind Kind

	// Type is the wire type as received.
	Type string

	// Content is the textual content. When the wire content is not a string
	// it is decoded into Payload instead and Content is empty.
	Content string

	// Payload holds non-string content (map[string]any, []any, float64 or
	// bool), or nil.
	Payload any

	// Query is the optional query field of query messages.
	Query string
}

// Text returns Content, falling back to Query.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Query
}

// ProtocolError reports an inbound frame that is not a relay message. The
// connection stays open.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("relay: malformed message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type wireMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Query   string          `json:"query,omitempty"`
}

// ParseMessage decodes a relay frame. A frame that is not a JSON object
// returns a [*ProtocolError]; a well-formed object with an unknown type is a
// [KindUnhandled] message, not an error.
func ParseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &ProtocolError{Raw: data, Err: fmt.Errorf("not a JSON object")}
	}
	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, &ProtocolError{Raw: data, Err: err}
	}

	msg := Message{Kind: ParseKind(w.Type), Type: w.Type, Query: w.Query}
	if len(w.Content) > 0 && !bytes.Equal(w.Content, []byte("null")) {
		var s string
		if err := json.Unmarshal(w.Content, &s); err == nil {
			msg.Content = s
		} else if err := json.Unmarshal(w.Content, &msg.Payload); err != nil {
			return Message{}, &ProtocolError{Raw: data, Err: err}
		}
	}
	msg.Content = strings.TrimSpace(msg.Content)
	return msg, nil
}

func encodeQuery(text string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Query   string `json:"query"`
	}{kindNames[KindQuery], text, text})
}

func encodeTranscript(text string) []byte {
	return mustMarshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}{kindNames[KindTranscript], text})
}

// mustMarshal encodes values that cannot fail to marshal.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("relay: " + err.Error())
	}
	return b
}
