package livekit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/audio/opus"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

type sampleRecorder struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *sampleRecorder) write(s media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *sampleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// newTestTrack builds a Track whose pacer never sleeps for real.
func newTestTrack(t *testing.T, rec *sampleRecorder, unpublish func() error) *Track {
	t.Helper()
	var (
		mu  sync.Mutex
		now = time.Unix(0, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
		return ctx.Err()
	}
	tr, err := newTrack(audio.Format{SampleRate: 16000, Channels: 1}, rec.write, unpublish,
		audio.NewPacer(audio.WithClock(clock, sleep)))
	if err != nil {
		t.Fatalf("newTrack: %v", err)
	}
	return tr
}

func frame16k(n int) audio.Frame {
	return audio.Frame{
		Samples:           make([]int16, n),
		SampleRate:        16000,
		Channels:          1,
		SamplesPerChannel: n,
	}
}

// ─── Track tests ──────────────────────────────────────────────────────────────

func TestTrack_OneSamplePerTwentyMillisecondFrame(t *testing.T) {
	t.Parallel()
	rec := &sampleRecorder{}
	tr := newTestTrack(t, rec, nil)

	for range 5 {
		if err := tr.CaptureFrame(context.Background(), frame16k(320)); err != nil {
			t.Fatalf("CaptureFrame: %v", err)
		}
	}
	if got := rec.count(); got != 5 {
		t.Fatalf("samples written = %d, want 5", got)
	}
	for i, s := range rec.samples {
		if s.Duration != opus.FrameDuration {
			t.Errorf("sample %d: duration %v, want %v", i, s.Duration, opus.FrameDuration)
		}
		if len(s.Data) == 0 {
			t.Errorf("sample %d: empty opus payload", i)
		}
	}
}

func TestTrack_PlayoutFlushesPartialPacket(t *testing.T) {
	t.Parallel()
	rec := &sampleRecorder{}
	tr := newTestTrack(t, rec, nil)

	// 10 ms frames: two captures make one packet, a third leaves a remainder.
	for range 3 {
		if err := tr.CaptureFrame(context.Background(), frame16k(160)); err != nil {
			t.Fatalf("CaptureFrame: %v", err)
		}
	}
	if got := rec.count(); got != 1 {
		t.Fatalf("samples before playout = %d, want 1", got)
	}
	if err := tr.WaitForPlayout(context.Background()); err != nil {
		t.Fatalf("WaitForPlayout: %v", err)
	}
	if got := rec.count(); got != 2 {
		t.Fatalf("samples after playout = %d, want 2", got)
	}
}

func TestTrack_CloseUnpublishesOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	tr := newTestTrack(t, &sampleRecorder{}, func() error {
		calls++
		return nil
	})

	for range 3 {
		if err := tr.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("unpublish calls = %d, want 1", calls)
	}
	if err := tr.CaptureFrame(context.Background(), frame16k(320)); !errors.Is(err, audio.ErrTrackClosed) {
		t.Errorf("CaptureFrame after Close: err = %v, want ErrTrackClosed", err)
	}
}

func TestTrack_WriteErrorSurfaces(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	tr, err := newTrack(audio.Format{SampleRate: 48000, Channels: 1},
		func(media.Sample) error { return boom }, nil, audio.NewPacer())
	if err != nil {
		t.Fatalf("newTrack: %v", err)
	}
	err = tr.CaptureFrame(context.Background(), audio.Frame{
		Samples: make([]int16, opus.FrameSize), SampleRate: 48000, Channels: 1, SamplesPerChannel: opus.FrameSize,
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestTrack_RoomGoneFailsCapture(t *testing.T) {
	t.Parallel()
	rec := &sampleRecorder{}
	tr := newTestTrack(t, rec, nil)
	live := true
	tr.live = func() bool { return live }

	if err := tr.CaptureFrame(context.Background(), frame16k(320)); err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	live = false
	if err := tr.CaptureFrame(context.Background(), frame16k(320)); !errors.Is(err, audio.ErrNotConnected) {
		t.Errorf("CaptureFrame after room loss: err = %v, want ErrNotConnected", err)
	}
	if got := rec.count(); got != 1 {
		t.Errorf("samples written = %d, want 1", got)
	}
}

func TestRoom_PublishWithoutConnect(t *testing.T) {
	t.Parallel()
	r := New("wss://example.livekit.cloud", audio.StaticToken("tok"))
	if _, err := r.PublishTrack(context.Background(), audio.TrackOptions{Name: "aura-tts"}); !errors.Is(err, audio.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if err := r.Disconnect(); err != nil {
		t.Errorf("Disconnect when not connected: %v", err)
	}
	if r.Connected() {
		t.Error("Connected = true before Connect")
	}
}

func TestRoom_TokenErrorPreventsConnect(t *testing.T) {
	t.Parallel()
	boom := errors.New("no credentials")
	r := New("wss://example.livekit.cloud", func(context.Context) (string, error) { return "", boom })
	if err := r.Connect(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped token error", err)
	}
}
