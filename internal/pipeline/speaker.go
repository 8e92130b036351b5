package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/aurarelay/internal/formatter"
	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
)

// DefaultSpeakQueue is the number of replies that may wait for the speaker.
const DefaultSpeakQueue = 16

// ErrSpeakerClosed is returned by [Speaker.Enqueue] after [Speaker.Run] has
// returned.
var ErrSpeakerClosed = errors.New("pipeline: speaker closed")

// Formatter rewrites assistant output into speakable text.
type Formatter interface {
	Format(ctx context.Context, msg formatter.Message) (string, error)
}

// Publisher plays decoded audio into the room.
type Publisher interface {
	PublishPCM(ctx context.Context, pcm audio.PCM) error
}

// SpeakerConfig holds the collaborators and limits of a [Speaker].
type SpeakerConfig struct {
	Formatter Formatter
	TTS       tts.Provider
	Publisher Publisher

	// Voice is passed to every synthesis call.
	Voice tts.SynthesizeOptions

	// SynthesisTimeout bounds one synthesis call. Zero means no bound.
	SynthesisTimeout time.Duration

	// QueueSize defaults to [DefaultSpeakQueue].
	QueueSize int

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Speaker turns assistant replies into room audio one at a time: format,
// synthesize, publish. A reply never starts before the previous one has
// finished playing.
type Speaker struct {
	cfg   SpeakerConfig
	log   *slog.Logger
	met   *observe.Metrics
	queue chan formatter.Message

	done     chan struct{}
	doneOnce sync.Once
}

// NewSpeaker creates a Speaker. Nothing is spoken until [Speaker.Run] starts.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultSpeakQueue
	}
	s := &Speaker{
		cfg:   cfg,
		log:   cfg.Logger,
		met:   cfg.Metrics,
		queue: make(chan formatter.Message, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}
	return s
}

// Enqueue schedules msg for speaking. When the queue is full it blocks until
// the speaker frees a slot, ctx is cancelled or Run returns.
func (s *Speaker) Enqueue(ctx context.Context, msg formatter.Message) error {
	select {
	case <-s.done:
		return ErrSpeakerClosed
	default:
	}
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSpeakerClosed
	case <-ctx.Done():
		return fmt.Errorf("pipeline: enqueue reply: %w", ctx.Err())
	}
}

// Run speaks queued replies until ctx is cancelled. Failures of a single
// reply are logged and do not stop the loop. Run always returns nil.
func (s *Speaker) Run(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.queue:
			if err := s.Speak(ctx, msg); err != nil && ctx.Err() == nil {
				s.log.Error("pipeline: speak failed", "error", err)
			}
		}
	}
}

// Speak formats, synthesizes and publishes msg synchronously. Replies that
// format to empty text are skipped.
func (s *Speaker) Speak(ctx context.Context, msg formatter.Message) error {
	text, err := s.cfg.Formatter.Format(ctx, msg)
	if err != nil {
		return fmt.Errorf("pipeline: format: %w", err)
	}
	if text == "" {
		s.log.Debug("pipeline: formatted reply is empty, skipping")
		return nil
	}

	pcm, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(pcm.Samples) == 0 {
		s.log.Warn("pipeline: synthesis returned no audio", "chars", len(text))
		return nil
	}

	if err := s.cfg.Publisher.PublishPCM(ctx, pcm); err != nil {
		return fmt.Errorf("pipeline: publish: %w", err)
	}
	s.log.Info("pipeline: reply spoken",
		"chars", len(text),
		"duration", pcm.Duration(),
	)
	return nil
}

func (s *Speaker) synthesize(ctx context.Context, text string) (audio.PCM, error) {
	if s.cfg.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SynthesisTimeout)
		defer cancel()
	}

	start := time.Now()
	pcm, err := s.cfg.TTS.Synthesize(ctx, text, s.cfg.Voice)
	outcome := observe.OutcomeOK
	if err != nil {
		outcome = observe.OutcomeError
	}
	observe.ObserveSince(ctx, s.met.TTSDuration, start, observe.Attr("outcome", outcome))
	if err != nil {
		return audio.PCM{}, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	return pcm, nil
}
