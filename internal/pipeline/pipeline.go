// Package pipeline connects the relay's moving parts: inbound ingestion
// events feed the session state machine or the spoken-reply path, and
// messages from relay consumers feed assistant replies back into the
// session and the speaker.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/MrWong99/aurarelay/internal/formatter"
	"github.com/MrWong99/aurarelay/internal/ingest"
	"github.com/MrWong99/aurarelay/internal/relay"
	"github.com/MrWong99/aurarelay/internal/session"
)

// Machine is the subset of [session.Machine] the pipeline drives.
type Machine interface {
	HandleTranscript(ctx context.Context, text string, final bool) session.Decision
	AssistantResponded(ctx context.Context)
}

// Pipeline routes events between components. It holds no state of its own.
type Pipeline struct {
	machine        Machine
	speaker        *Speaker
	speakResponses bool
	log            *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithSpeaker enables the spoken-reply path. Without a speaker every inbound
// event is treated as a final transcript.
func WithSpeaker(s *Speaker) Option {
	return func(p *Pipeline) { p.speaker = s }
}

// WithSpokenResponses also speaks "response" messages sent by relay
// consumers. It has no effect without [WithSpeaker].
func WithSpokenResponses(enabled bool) Option {
	return func(p *Pipeline) { p.speakResponses = enabled }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a Pipeline around m.
func New(m Machine, opts ...Option) *Pipeline {
	p := &Pipeline{machine: m, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// HandleEvent is the ingestion client's message handler. Transcripts go to
// the state machine; any other event is an assistant reply to be spoken.
func (p *Pipeline) HandleEvent(ctx context.Context, ev ingest.Event) error {
	if ev.IsTranscript() || p.speaker == nil {
		final := ev.Final || !ev.IsTranscript()
		d := p.machine.HandleTranscript(ctx, ev.Text, final)
		p.log.Debug("pipeline: transcript handled", "decision", d, "final", final)
		return nil
	}
	return p.speaker.Enqueue(ctx, formatter.Message{Text: ev.Text, Payload: ev.Payload})
}

// HandleRelay is the relay server's inbound message handler.
func (p *Pipeline) HandleRelay(ctx context.Context, msg relay.Message) {
	if msg.Kind != relay.KindResponse {
		return
	}
	p.machine.AssistantResponded(ctx)

	if p.speaker == nil || !p.speakResponses {
		return
	}
	text := msg.Text()
	if text == "" && msg.Payload == nil {
		return
	}
	if err := p.speaker.Enqueue(ctx, formatter.Message{Text: text, Payload: msg.Payload}); err != nil {
		p.log.Warn("pipeline: response not spoken", "error", err)
	}
}
