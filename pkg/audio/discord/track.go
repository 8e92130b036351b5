package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/audio/opus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const opusChannels = 2

// Compile-time interface assertion.
var _ audio.Track = (*Track)(nil)

// Track converts frames to Discord's target format (48 kHz stereo), extracts
// exact Opus frame-sized chunks, encodes them and sends them on the voice
// connection's OpusSend channel, paced to real time.
type Track struct {
	format   audio.Format
	send     chan<- []byte
	speaking func(bool) error
	pacer    *audio.Pacer
	log      *slog.Logger

	mu          sync.Mutex
	pk          *opus.Packetizer
	speakingSet bool
	closed      bool
	done        chan struct{}
	closeOnce   sync.Once
}

func newTrack(format audio.Format, send chan<- []byte, speaking func(bool) error, pacer *audio.Pacer, log *slog.Logger) (*Track, error) {
	pk, err := opus.NewPacketizer(opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: %w", err)
	}
	return &Track{
		format:   format,
		send:     send,
		speaking: speaking,
		pacer:    pacer,
		log:      log,
		pk:       pk,
		done:     make(chan struct{}),
	}, nil
}

// Format implements [audio.Track].
func (t *Track) Format() audio.Format {
	return t.format
}

// CaptureFrame implements [audio.Track].
func (t *Track) CaptureFrame(ctx context.Context, f audio.Frame) error {
	mono := audio.Downmix(f.Samples, f.Channels)
	stereo := audio.MonoToStereo(audio.Resample(mono, f.SampleRate, opus.SampleRate))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return audio.ErrTrackClosed
	}
	if !t.speakingSet {
		t.setSpeaking(true)
		t.speakingSet = true
	}
	pkts, err := t.pk.Write(stereo)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	for _, pkt := range pkts {
		if err := t.transmit(ctx, pkt); err != nil {
			return err
		}
	}
	return nil
}

// WaitForPlayout implements [audio.Track]. The speaking indicator is cleared
// once playout completes.
func (t *Track) WaitForPlayout(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return audio.ErrTrackClosed
	}
	pkt, err := t.pk.Flush()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if pkt != nil {
		if err := t.transmit(ctx, pkt); err != nil {
			return err
		}
	}
	if err := t.pacer.Wait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	if t.speakingSet {
		t.setSpeaking(false)
		t.speakingSet = false
	}
	t.mu.Unlock()
	return nil
}

// Close implements [audio.Track]. It is safe to call more than once.
func (t *Track) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.speakingSet {
			t.setSpeaking(false)
			t.speakingSet = false
		}
		t.mu.Unlock()
		close(t.done)
		t.pacer.Reset()
	})
	return nil
}

func (t *Track) transmit(ctx context.Context, pkt []byte) error {
	if err := t.pacer.Schedule(ctx, opus.FrameDuration); err != nil {
		return err
	}
	select {
	case t.send <- pkt:
		return nil
	case <-t.done:
		return audio.ErrTrackClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (t *Track) setSpeaking(b bool) {
	if t.speaking == nil {
		return
	}
	if err := t.speaking(b); err != nil {
		t.log.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
