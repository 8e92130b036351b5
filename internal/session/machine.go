// Package session gates which finalised transcripts reach the downstream
// command channel.
//
// A [Machine] holds the conversational phase. Every final transcript is shown
// to consumers; only transcripts arriving while the user is addressing the
// assistant are forwarded as commands. The phase is the machine's only
// externally visible state and is reported through the observer on every
// change.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/aurarelay/internal/classifier"
	"github.com/MrWong99/aurarelay/internal/observe"
)

// Phase is the conversational session phase.
type Phase int

const (
	// PhaseIdle ignores everything but a wake phrase.
	PhaseIdle Phase = iota

	// PhaseArmed is a pre-listening phase entered only through [Machine.Arm].
	// It reacts to a wake phrase exactly like PhaseIdle.
	PhaseArmed

	// PhaseListening forwards the next non-empty command.
	PhaseListening

	// PhaseProcessing waits for the assistant to respond.
	PhaseProcessing
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Decision is what [Machine.HandleTranscript] did with a transcript.
type Decision int

const (
	// DecisionDropped means the transcript was interim or blank.
	DecisionDropped Decision = iota

	// DecisionDisplayed means the transcript was shown but not forwarded.
	DecisionDisplayed

	// DecisionForwarded means the stripped transcript was sent as a command.
	DecisionForwarded
)

// String returns the lower-case decision name.
func (d Decision) String() string {
	switch d {
	case DecisionDropped:
		return "dropped"
	case DecisionDisplayed:
		return "displayed"
	case DecisionForwarded:
		return "forwarded"
	default:
		return "unknown"
	}
}

// Classifier detects wake and stop phrases and strips them from commands.
// [*classifier.Classifier] satisfies it.
type Classifier interface {
	Classify(ctx context.Context, text string) classifier.Result
	StripCommand(text string) string
}

// Sink receives transcripts. SendTranscript forwards a command;
// SendTranscriptDisplay only shows the text.
type Sink interface {
	SendTranscript(text string)
	SendTranscriptDisplay(text string)
}

// Option configures a [Machine].
type Option func(*Machine)

// WithObserver registers fn to be called with the new phase after every
// transition. fn runs outside the machine's lock and may call back into it.
func WithObserver(fn func(Phase)) Option {
	return func(m *Machine) { m.observer = fn }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// Machine is the session state machine. It starts in [PhaseIdle].
//
// HandleTranscript is expected to be called from a single goroutine (the
// ingestion worker); Arm and AssistantResponded may arrive from others. All
// methods are safe for concurrent use.
type Machine struct {
	classifier Classifier
	sink       Sink
	observer   func(Phase)
	log        *slog.Logger
	metrics    *observe.Metrics

	mu    sync.Mutex
	phase Phase
}

// NewMachine creates a Machine in [PhaseIdle].
func NewMachine(c Classifier, sink Sink, opts ...Option) *Machine {
	m := &Machine{
		classifier: c,
		sink:       sink,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// HandleTranscript evaluates one transcript. Interim and blank transcripts are
// dropped without touching the phase. A final transcript is always displayed,
// then:
//
//   - a wake moves Idle or Armed to Listening;
//   - a stop moves Listening or Processing to Idle and nothing is forwarded;
//   - in Listening the stripped command, if non-empty, is forwarded and the
//     phase moves to Processing.
//
// The wake transcript is itself evaluated in Listening, so "hey aura run the
// tests" forwards "run the tests" straight away.
func (m *Machine) HandleTranscript(ctx context.Context, text string, final bool) Decision {
	text = strings.TrimSpace(text)
	if !final || text == "" {
		return DecisionDropped
	}
	m.sink.SendTranscriptDisplay(text)

	res := m.classifier.Classify(ctx, text)

	var (
		entered []Phase
		command string
	)
	m.mu.Lock()
	if res.Wake && (m.phase == PhaseIdle || m.phase == PhaseArmed) {
		entered = append(entered, m.setLocked(PhaseListening))
	}
	switch {
	case res.Stop && (m.phase == PhaseListening || m.phase == PhaseProcessing):
		entered = append(entered, m.setLocked(PhaseIdle))
	case m.phase == PhaseListening:
		if command = m.classifier.StripCommand(text); command != "" {
			entered = append(entered, m.setLocked(PhaseProcessing))
		}
	}
	m.mu.Unlock()

	if command != "" {
		m.sink.SendTranscript(command)
		m.log.Info("session: command forwarded", "command", command)
	}
	m.notify(ctx, entered...)

	if command != "" {
		return DecisionForwarded
	}
	return DecisionDisplayed
}

// Arm moves Idle to Armed. It is a no-op in any other phase.
func (m *Machine) Arm(ctx context.Context) {
	m.transition(ctx, PhaseIdle, PhaseArmed)
}

// AssistantResponded moves Processing back to Listening. It is a no-op in
// any other phase.
func (m *Machine) AssistantResponded(ctx context.Context) {
	m.transition(ctx, PhaseProcessing, PhaseListening)
}

func (m *Machine) transition(ctx context.Context, from, to Phase) {
	m.mu.Lock()
	if m.phase != from {
		m.mu.Unlock()
		return
	}
	m.setLocked(to)
	m.mu.Unlock()
	m.notify(ctx, to)
}

func (m *Machine) setLocked(p Phase) Phase {
	m.phase = p
	return p
}

func (m *Machine) notify(ctx context.Context, phases ...Phase) {
	for _, p := range phases {
		m.metrics.RecordTransition(ctx, p.String())
		m.log.Debug("session: phase changed", "phase", p)
		if m.observer != nil {
			m.observer(p)
		}
	}
}
