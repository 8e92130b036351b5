package livekit

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/audio/opus"
)

// Compile-time interface assertion.
var _ audio.Track = (*Track)(nil)

// Track is a published LiveKit sample track. Frames are downmixed to mono,
// resampled to 48 kHz and written as 20 ms Opus samples, each one reserved on
// the pacer before it is written.
type Track struct {
	format    audio.Format
	write     func(media.Sample) error
	unpublish func() error
	pacer     *audio.Pacer

	// live reports whether the owning room session is still up. Nil means
	// always.
	live func() bool

	mu     sync.Mutex
	pk     *opus.Packetizer
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func newTrack(format audio.Format, write func(media.Sample) error, unpublish func() error, pacer *audio.Pacer) (*Track, error) {
	pk, err := opus.NewPacketizer(1)
	if err != nil {
		return nil, fmt.Errorf("livekit: %w", err)
	}
	return &Track{
		format:    format,
		write:     write,
		unpublish: unpublish,
		pacer:     pacer,
		pk:        pk,
	}, nil
}

// Format implements [audio.Track].
func (t *Track) Format() audio.Format {
	return t.format
}

// CaptureFrame implements [audio.Track]. It returns once every complete Opus
// packet derived from f has been written, which may wait on the pacer.
func (t *Track) CaptureFrame(ctx context.Context, f audio.Frame) error {
	mono := audio.Downmix(f.Samples, f.Channels)
	up := audio.Resample(mono, f.SampleRate, opus.SampleRate)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return audio.ErrTrackClosed
	}
	pkts, err := t.pk.Write(up)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("livekit: %w", err)
	}

	for _, pkt := range pkts {
		if err := t.send(ctx, pkt); err != nil {
			return err
		}
	}
	return nil
}

// WaitForPlayout implements [audio.Track]. Buffered audio shorter than one
// Opus packet is padded and written first.
func (t *Track) WaitForPlayout(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return audio.ErrTrackClosed
	}
	pkt, err := t.pk.Flush()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("livekit: %w", err)
	}
	if pkt != nil {
		if err := t.send(ctx, pkt); err != nil {
			return err
		}
	}
	return t.pacer.Wait(ctx)
}

// Close implements [audio.Track]. It unpublishes the track once.
func (t *Track) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.pacer.Reset()
		if t.unpublish != nil {
			t.closeErr = t.unpublish()
		}
	})
	return t.closeErr
}

func (t *Track) send(ctx context.Context, pkt []byte) error {
	if t.live != nil && !t.live() {
		return audio.ErrNotConnected
	}
	if err := t.pacer.Schedule(ctx, opus.FrameDuration); err != nil {
		return err
	}
	if err := t.write(media.Sample{Data: pkt, Duration: opus.FrameDuration}); err != nil {
		return fmt.Errorf("livekit: write sample: %w", err)
	}
	return nil
}
