package ingest

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		raw         string
		wantOK      bool
		wantText    string
		wantPayload string // JSON rendering of Payload, "" for nil
	}{
		{name: "plain text", raw: `{"text":"hello"}`, wantOK: true, wantText: "hello"},
		{name: "text is trimmed", raw: `{"text":"  hi there \n"}`, wantOK: true, wantText: "hi there"},
		{name: "missing text", raw: `{"object":{"a":1}}`},
		{name: "blank text", raw: `{"text":"   "}`},
		{name: "non-string text", raw: `{"text":42}`},
		{name: "top-level array", raw: `[{"text":"x"}]`},
		{name: "top-level string", raw: `"text"`},
		{name: "object payload", raw: `{"text":"t","object":{"a":1}}`, wantOK: true, wantText: "t", wantPayload: `{"a":1}`},
		{name: "options list", raw: `{"text":"t","options":["yes","no"]}`, wantOK: true, wantText: "t", wantPayload: `["yes","no"]`},
		{name: "object wins over data", raw: `{"text":"t","data":[1],"object":{"b":2}}`, wantOK: true, wantText: "t", wantPayload: `{"b":2}`},
		{name: "null skipped", raw: `{"text":"t","object":null,"payload":{"c":3}}`, wantOK: true, wantText: "t", wantPayload: `{"c":3}`},
		{name: "scalar candidate ends search", raw: `{"text":"t","object":"str","payload":{"c":3}}`, wantOK: true, wantText: "t"},
		{name: "large numbers kept exact", raw: `{"text":"t","data":{"id":12345678901234567890}}`, wantOK: true, wantText: "t", wantPayload: `{"id":12345678901234567890}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok, err := Normalize([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Text != tt.wantText {
				t.Errorf("text = %q, want %q", ev.Text, tt.wantText)
			}
			var gotPayload string
			if ev.Payload != nil {
				b, err := json.Marshal(ev.Payload)
				if err != nil {
					t.Fatalf("marshal payload: %v", err)
				}
				gotPayload = string(b)
			}
			if gotPayload != tt.wantPayload {
				t.Errorf("payload = %s, want %s", gotPayload, tt.wantPayload)
			}
		})
	}
}

func TestNormalize_TranscriptFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw       string
		wantFinal bool
		wantType  string
	}{
		{`{"text":"x","type":"transcript","final":false}`, false, "transcript"},
		{`{"text":"x","type":"transcript","isFinal":false}`, false, "transcript"},
		{`{"text":"x","type":"transcript","isFinal":true}`, true, "transcript"},
		{`{"text":"x","type":"transcript"}`, true, "transcript"},
		{`{"text":"x"}`, true, ""},
	}
	for _, tt := range tests {
		ev, ok, err := Normalize([]byte(tt.raw))
		if err != nil || !ok {
			t.Fatalf("Normalize(%s) = ok %v err %v", tt.raw, ok, err)
		}
		if ev.Final != tt.wantFinal {
			t.Errorf("%s: final = %v, want %v", tt.raw, ev.Final, tt.wantFinal)
		}
		if ev.Type != tt.wantType || ev.IsTranscript() != (tt.wantType == "transcript") {
			t.Errorf("%s: type = %q, want %q", tt.raw, ev.Type, tt.wantType)
		}
	}
}

func TestNormalize_MalformedJSON(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`not json`, `{"text":`, ``} {
		_, ok, err := Normalize([]byte(raw))
		if !errors.Is(err, ErrDecode) {
			t.Errorf("Normalize(%q) err = %v, want ErrDecode", raw, err)
		}
		if ok {
			t.Errorf("Normalize(%q) ok = true, want false", raw)
		}
	}
}

func TestNormalize_InvalidUTF8(t *testing.T) {
	t.Parallel()
	raw := append([]byte(`{"text":"caf`), 0xff, '"', '}')
	ev, ok, err := Normalize(raw)
	if err != nil || !ok {
		t.Fatalf("Normalize = ok %v err %v", ok, err)
	}
	if ev.Text != "caf�" {
		t.Errorf("text = %q, want replacement character", ev.Text)
	}
}
