// Package mock provides in-memory mock implementations of the [audio.Room] and
// [audio.Track] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	room := &mock.Room{}
//	pub := publisher.New(room)
//	_ = pub.PublishPCM(ctx, pcm)
//	frames := room.Tracks()[0].Frames()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aurarelay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.LiveRoom = (*Room)(nil)
	_ audio.Track    = (*Track)(nil)
)

// ─── Room ─────────────────────────────────────────────────────────────────────

// Room is a mock implementation of [audio.Room].
// Set the exported error fields before use; inspect the call counters after.
type Room struct {
	mu sync.Mutex

	// ConnectErr is returned by [Room.Connect].
	ConnectErr error

	// PublishErr is returned by [Room.PublishTrack].
	PublishErr error

	// DisconnectErr is returned by [Room.Disconnect].
	DisconnectErr error

	// CaptureErr is copied into every track created by PublishTrack.
	CaptureErr error

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// PublishedOptions records the options of every PublishTrack call in order.
	PublishedOptions []audio.TrackOptions

	// Events records "connect", "publish", "capture", "playout", "close" and
	// "disconnect" in call order across the room and all of its tracks.
	Events []string

	connected bool
	tracks    []*Track
}

// Connect implements [audio.Room].
func (r *Room) Connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountConnect++
	r.Events = append(r.Events, "connect")
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connected = true
	return nil
}

// PublishTrack implements [audio.Room]. It fails with [audio.ErrNotConnected]
// unless Connect succeeded first.
func (r *Room) PublishTrack(_ context.Context, opts audio.TrackOptions) (audio.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, "publish")
	if !r.connected {
		return nil, audio.ErrNotConnected
	}
	if r.PublishErr != nil {
		return nil, r.PublishErr
	}
	r.PublishedOptions = append(r.PublishedOptions, opts)
	t := &Track{room: r, opts: opts, CaptureErr: r.CaptureErr}
	r.tracks = append(r.tracks, t)
	return t, nil
}

// Disconnect implements [audio.Room].
func (r *Room) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountDisconnect++
	r.Events = append(r.Events, "disconnect")
	r.connected = false
	return r.DisconnectErr
}

// Connected reports whether the last Connect succeeded and no Disconnect followed.
func (r *Room) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Drop simulates the server ending the session: the room reports itself
// disconnected and every existing track fails with [audio.ErrNotConnected].
func (r *Room) Drop() {
	r.mu.Lock()
	r.connected = false
	r.Events = append(r.Events, "drop")
	tracks := append([]*Track(nil), r.tracks...)
	r.mu.Unlock()
	for _, t := range tracks {
		t.mu.Lock()
		t.dropped = true
		t.mu.Unlock()
	}
}

// Tracks returns every track created by PublishTrack, in creation order.
func (r *Room) Tracks() []*Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Track(nil), r.tracks...)
}

// EventLog returns a copy of Events.
func (r *Room) EventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Events...)
}

func (r *Room) record(ev string) {
	r.mu.Lock()
	r.Events = append(r.Events, ev)
	r.mu.Unlock()
}

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track] that records captured frames.
type Track struct {
	mu   sync.Mutex
	room *Room
	opts audio.TrackOptions

	// CaptureErr is returned by [Track.CaptureFrame].
	CaptureErr error

	// OnCapture, if set, is invoked synchronously for every captured frame
	// before CaptureFrame returns.
	OnCapture func(audio.Frame)

	frames       []audio.Frame
	playoutWaits int
	framesAtWait []int
	closed       bool
	dropped      bool
}

// Format implements [audio.Track].
func (t *Track) Format() audio.Format {
	return t.opts.Format
}

// Name returns the published track name.
func (t *Track) Name() string {
	return t.opts.Name
}

// CaptureFrame implements [audio.Track].
func (t *Track) CaptureFrame(ctx context.Context, f audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return audio.ErrNotConnected
	}
	if t.CaptureErr != nil {
		err := t.CaptureErr
		t.mu.Unlock()
		return err
	}
	t.frames = append(t.frames, f)
	cb := t.OnCapture
	t.mu.Unlock()

	t.room.record("capture")
	if cb != nil {
		cb(f)
	}
	return nil
}

// WaitForPlayout implements [audio.Track]. It returns immediately.
func (t *Track) WaitForPlayout(ctx context.Context) error {
	t.mu.Lock()
	t.playoutWaits++
	t.framesAtWait = append(t.framesAtWait, len(t.frames))
	t.mu.Unlock()
	t.room.record("playout")
	return ctx.Err()
}

// Close implements [audio.Track].
func (t *Track) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.room.record("close")
	return nil
}

// Frames returns a copy of every captured frame in capture order.
func (t *Track) Frames() []audio.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]audio.Frame(nil), t.frames...)
}

// PlayoutWaits returns how many times WaitForPlayout was called.
func (t *Track) PlayoutWaits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playoutWaits
}

// FramesAtPlayoutWait returns the captured frame count at each WaitForPlayout call.
func (t *Track) FramesAtPlayoutWait() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.framesAtWait...)
}

// Closed reports whether Close was called.
func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
