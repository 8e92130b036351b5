package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDecode wraps every inbound payload that is not valid JSON.
var ErrDecode = errors.New("ingest: decode message")

// payloadKeys are checked in order; the first present one is the candidate
// structured payload.
var payloadKeys = [...]string{"object", "options", "data", "payload"}

// Event is one normalised inbound message.
type Event struct {
	// Text is the trimmed, non-empty text field.
	Text string

	// Type is the optional "type" field. Upstream transcription sources send
	// "transcript"; other producers usually leave it empty.
	Type string

	// Final reports whether a transcript is finalised. Messages without a
	// "final" or "isFinal" flag are treated as final.
	Final bool

	// Payload is the attached structured data, a map[string]any or []any, or
	// nil. Numbers are kept as [json.Number].
	Payload any
}

// IsTranscript reports whether the event came from a transcription source.
func (e Event) IsTranscript() bool {
	return e.Type == "transcript"
}

// Normalize decodes raw into an Event. ok is false when the message has no
// usable text and must be dropped silently; err wraps [ErrDecode] when raw is
// not JSON at all.
func Normalize(raw []byte) (ev Event, ok bool, err error) {
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte("�"))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	record, isObject := v.(map[string]any)
	if !isObject {
		return Event{}, false, nil
	}
	text, _ := record["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return Event{}, false, nil
	}

	ev = Event{Text: text, Final: true}
	ev.Type, _ = record["type"].(string)
	for _, key := range [...]string{"final", "isFinal"} {
		if f, present := record[key].(bool); present {
			ev.Final = f
			break
		}
	}

	for _, key := range payloadKeys {
		candidate, present := record[key]
		if !present || candidate == nil {
			continue
		}
		switch candidate.(type) {
		case map[string]any, []any:
			ev.Payload = candidate
		}
		break
	}
	return ev, true, nil
}
