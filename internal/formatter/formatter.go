// Package formatter rewrites assistant output into natural spoken language
// before it is synthesised.
package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
)

// Message is the structured input to format.
type Message struct {
	// Text is the primary content.
	Text string

	// Payload is optional structured data, a map[string]any or []any. Empty
	// payloads are ignored.
	Payload any
}

// Option configures a [Formatter].
type Option func(*Formatter)

// WithTimeout bounds a single formatting call. Zero leaves ctx untouched.
func WithTimeout(d time.Duration) Option {
	return func(f *Formatter) { f.timeout = d }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(f *Formatter) { f.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Formatter) { f.metrics = m }
}

// Formatter turns a [Message] into speakable text with one LLM call. Failed
// calls are not retried. Formatter is safe for concurrent use.
type Formatter struct {
	llm     llm.Provider
	timeout time.Duration
	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates a Formatter backed by p.
func New(p llm.Provider, opts ...Option) *Formatter {
	f := &Formatter{llm: p, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Format returns the model's trimmed rewrite of msg. The result may be empty.
func (f *Formatter) Format(ctx context.Context, msg Message) (string, error) {
	prompt, err := BuildPrompt(msg)
	if err != nil {
		return "", err
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := f.llm.Complete(ctx, llm.UserPrompt(prompt))
	outcome := observe.OutcomeOK
	if err != nil {
		outcome = observe.OutcomeError
	}
	observe.ObserveSince(ctx, f.metrics.FormatterDuration, start, observe.Attr("outcome", outcome))
	if err != nil {
		return "", fmt.Errorf("formatter: complete: %w", err)
	}

	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	f.log.Debug("formatter: formatted", "input_len", len(msg.Text), "output_len", len(text))
	return text, nil
}

// BuildPrompt renders the formatting instruction for msg. A non-empty payload
// is appended as indented JSON.
func BuildPrompt(msg Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Rewrite the input into concise, natural language for a spoken response. ")
	sb.WriteString("If additional data contains options or choices, include them as a short spoken list. ")
	sb.WriteString("Do not mention JSON or field names.\n\n")
	fmt.Fprintf(&sb, "Input text: \"%s\"", msg.Text)

	if hasPayload(msg.Payload) {
		data, err := json.MarshalIndent(msg.Payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("formatter: encode payload: %w", err)
		}
		sb.WriteString("\n\nAdditional data:\n")
		sb.Write(data)
	}
	return sb.String(), nil
}

func hasPayload(p any) bool {
	switch v := p.(type) {
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return false
	}
}
