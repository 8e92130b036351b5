// Package publisher streams synthesised PCM into an audio room.
//
// A [Publisher] owns at most one published track. Each [Publisher.PublishPCM]
// call downmixes its buffer to mono, re-frames it into uniform frames at the
// configured cadence and hands them to the track one at a time. It returns
// only after the room reports that the audio has played out, so a caller may
// publish the next reply as soon as the previous call returns.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/pkg/audio"
)

// DefaultTrackName is the published track name used when none is configured.
const DefaultTrackName = "aura-tts"

// Option configures a [Publisher].
type Option func(*Publisher)

// WithTrackName sets the published track name. Default: [DefaultTrackName].
func WithTrackName(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.trackName = name
		}
	}
}

// WithFrameDuration sets the frame cadence. Default: [audio.DefaultFrameDuration].
func WithFrameDuration(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.frameDuration = d
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// Publisher is safe for concurrent use; calls are serialised, so a second
// PublishPCM waits until the first has played out.
type Publisher struct {
	room          audio.Room
	trackName     string
	frameDuration time.Duration
	log           *slog.Logger
	metrics       *observe.Metrics

	mu        sync.Mutex
	connected bool
	track     audio.Track
}

// New creates a Publisher for room. Nothing is connected until [Publisher.Connect]
// or the first [Publisher.PublishPCM].
func New(room audio.Room, opts ...Option) *Publisher {
	p := &Publisher{
		room:          room,
		trackName:     DefaultTrackName,
		frameDuration: audio.DefaultFrameDuration,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Connect joins the room. It is a no-op when already connected.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

// Connected reports whether the room session is currently established.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && p.roomLive()
}

// roomLive is false once a [audio.LiveRoom] reports that the server ended the
// session. Other rooms are assumed live while connected.
func (p *Publisher) roomLive() bool {
	lr, ok := p.room.(audio.LiveRoom)
	return !ok || lr.Connected()
}

func (p *Publisher) connectLocked(ctx context.Context) error {
	if p.connected {
		if p.roomLive() {
			return nil
		}
		p.log.Warn("publisher: room session lost, reconnecting")
		p.resetLocked()
	}
	if err := p.room.Connect(ctx); err != nil {
		return fmt.Errorf("publisher: connect: %w", err)
	}
	p.connected = true
	return nil
}

// PublishPCM plays pcm into the room and blocks until it has played out.
// Multi-channel input is averaged down to mono. The trailing partial frame
// is zero-padded to full length.
func (p *Publisher) PublishPCM(ctx context.Context, pcm audio.PCM) error {
	if pcm.SampleRate <= 0 {
		return fmt.Errorf("publisher: invalid sample rate %d", pcm.SampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return err
	}
	mono := audio.Downmix(pcm.Samples, pcm.Channels)
	track, err := p.ensureTrackLocked(ctx, audio.Format{SampleRate: pcm.SampleRate, Channels: 1})
	if err != nil {
		return err
	}

	frames := audio.SplitFrames(mono, pcm.SampleRate, audio.FrameSamples(pcm.SampleRate, p.frameDuration))
	for i, f := range frames {
		if err := track.CaptureFrame(ctx, f); err != nil {
			p.dropClosedTrackLocked(err)
			return fmt.Errorf("publisher: capture frame %d/%d: %w", i+1, len(frames), err)
		}
		p.metrics.PublisherFrames.Add(ctx, 1, metric.WithAttributes(observe.Attr("track", p.trackName)))
	}
	if err := track.WaitForPlayout(ctx); err != nil {
		p.dropClosedTrackLocked(err)
		return fmt.Errorf("publisher: wait for playout: %w", err)
	}

	p.log.Debug("publisher: played", "frames", len(frames), "duration", pcm.Duration())
	return nil
}

// ensureTrackLocked returns the published track for format, replacing the
// current one when its format differs.
func (p *Publisher) ensureTrackLocked(ctx context.Context, format audio.Format) (audio.Track, error) {
	if p.track != nil && p.track.Format() == format {
		return p.track, nil
	}
	if p.track != nil {
		if err := p.track.Close(); err != nil {
			p.log.Warn("publisher: close previous track", "error", err)
		}
		p.track = nil
	}

	track, err := p.room.PublishTrack(ctx, audio.TrackOptions{Name: p.trackName, Format: format})
	if err != nil {
		if errors.Is(err, audio.ErrNotConnected) {
			p.connected = false
		}
		return nil, fmt.Errorf("publisher: publish track: %w", err)
	}
	p.track = track
	p.log.Info("publisher: track published", "name", p.trackName, "format", format)
	return track, nil
}

func (p *Publisher) dropClosedTrackLocked(err error) {
	switch {
	case errors.Is(err, audio.ErrNotConnected):
		p.resetLocked()
	case errors.Is(err, audio.ErrTrackClosed):
		p.track = nil
	}
}

// resetLocked forgets the session and its track so the next publish
// reconnects and republishes.
func (p *Publisher) resetLocked() {
	if p.track != nil {
		if err := p.track.Close(); err != nil {
			p.log.Debug("publisher: close stale track", "error", err)
		}
		p.track = nil
	}
	p.connected = false
}

// Disconnect closes the active track and leaves the room. It is safe to call
// when not connected.
func (p *Publisher) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.track != nil {
		if err := p.track.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: close track: %w", err))
		}
		p.track = nil
	}
	if p.connected {
		if err := p.room.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: disconnect: %w", err))
		}
		p.connected = false
	}
	return errors.Join(errs...)
}
