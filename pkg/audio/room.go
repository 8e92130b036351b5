// Package audio defines the PCM types, conversions and room-transport
// interfaces used by the aurarelay spoken-reply path.
//
// The two primary abstractions are:
//
//   - [Room]: a session with an audio room that can carry outbound tracks.
//   - [Track]: a single published track fed with uniform PCM [Frame] values.
//
// Implementations live in transport packages (audio/livekit, audio/discord)
// and in audio/mock for tests.
package audio

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when a track is requested from a room whose
// session has not been established or has already been torn down.
var ErrNotConnected = errors.New("audio: room not connected")

// ErrTrackClosed is returned when frames are captured on a closed track.
var ErrTrackClosed = errors.New("audio: track closed")

// TokenSource yields the credential used to join a room. It is called once per
// connection attempt, so lazily minted tokens are always fresh.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a [TokenSource] that always yields tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// TrackOptions describes a track to publish.
type TrackOptions struct {
	// Name is the published track name visible to room participants.
	Name string

	// Format is the rate and channel layout of the frames the track accepts.
	Format Format
}

// Track is a single outbound audio track.
//
// Implementations must be safe for use by one writer goroutine; Close may be
// called concurrently with a blocked CaptureFrame.
type Track interface {
	// Format returns the layout of frames the track accepts.
	Format() Format

	// CaptureFrame hands one frame to the transport. It blocks until the
	// transport has accepted the frame, which may be throttled so that the
	// queued audio never runs far ahead of real-time playout.
	CaptureFrame(ctx context.Context, f Frame) error

	// WaitForPlayout blocks until every captured frame has been played out.
	WaitForPlayout(ctx context.Context) error

	// Close unpublishes the track and releases its resources. It is safe to
	// call more than once.
	Close() error
}

// Room is a session with an audio room.
//
// Implementations must be safe for concurrent use.
type Room interface {
	// Connect establishes the session. Calling Connect on a connected room
	// returns nil without reconnecting.
	Connect(ctx context.Context) error

	// PublishTrack creates and publishes a new outbound track.
	PublishTrack(ctx context.Context, opts TrackOptions) (Track, error)

	// Disconnect tears down the session. It is safe to call more than once.
	Disconnect() error
}

// LiveRoom is a [Room] that notices when the server ends its session.
// Callers holding a connected room check Connected before reuse and
// reconnect when it reports false.
type LiveRoom interface {
	Room
	Connected() bool
}
