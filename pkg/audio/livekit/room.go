// Package livekit provides an [audio.Room] backed by a LiveKit room via the
// livekit/server-sdk-go client. Published tracks carry 48 kHz mono Opus;
// frames captured at any rate are resampled, packetised into 20 ms Opus
// packets and paced to real time so callers can await playout.
package livekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/audio/opus"
)

// Compile-time interface assertion.
var _ audio.LiveRoom = (*Room)(nil)

// Room implements [audio.Room] for a single LiveKit room session.
//
// Room is safe for concurrent use.
type Room struct {
	url       string
	token     audio.TokenSource
	log       *slog.Logger
	pacerOpts []audio.PacerOption

	mu   sync.Mutex
	room *lksdk.Room
}

// Option configures a [Room].
type Option func(*Room)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.log = l }
}

// WithPacerOptions configures the playout pacer of every published track.
func WithPacerOptions(opts ...audio.PacerOption) Option {
	return func(r *Room) { r.pacerOpts = append(r.pacerOpts, opts...) }
}

// New creates a Room that joins the LiveKit server at url. token is consulted
// on every connection attempt.
func New(url string, token audio.TokenSource, opts ...Option) *Room {
	r := &Room{
		url:   url,
		token: token,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect joins the room. It is a no-op if already connected.
func (r *Room) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room != nil {
		return nil
	}

	tok, err := r.token(ctx)
	if err != nil {
		return fmt.Errorf("livekit: fetch token: %w", err)
	}

	var room *lksdk.Room
	cb := &lksdk.RoomCallback{
		OnDisconnected: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.room != nil && r.room == room {
				r.log.Warn("livekit: room disconnected by server")
				r.room = nil
			}
		},
	}
	room, err = lksdk.ConnectToRoomWithToken(r.url, tok, cb, lksdk.WithAutoSubscribe(false))
	if err != nil {
		return fmt.Errorf("livekit: connect %q: %w", r.url, err)
	}
	r.room = room
	r.log.Info("livekit: connected", "room", room.Name())
	return nil
}

// Connected reports whether the room session is live. It turns false when
// the server ends the session.
func (r *Room) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room != nil
}

// PublishTrack creates a 48 kHz Opus sample track and publishes it as a
// microphone source. The returned track accepts frames in opts.Format.
func (r *Room) PublishTrack(_ context.Context, opts audio.TrackOptions) (audio.Track, error) {
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return nil, audio.ErrNotConnected
	}

	local, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opus.SampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("livekit: create sample track: %w", err)
	}

	pub, err := room.LocalParticipant.PublishTrack(local, &lksdk.TrackPublicationOptions{
		Name:   opts.Name,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return nil, fmt.Errorf("livekit: publish track %q: %w", opts.Name, err)
	}
	sid := pub.SID()

	t, err := newTrack(opts.Format,
		func(s media.Sample) error { return local.WriteSample(s, nil) },
		func() error { return room.LocalParticipant.UnpublishTrack(sid) },
		audio.NewPacer(r.pacerOpts...),
	)
	if err != nil {
		_ = room.LocalParticipant.UnpublishTrack(sid)
		return nil, err
	}
	t.live = func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.room == room
	}
	r.log.Info("livekit: track published", "name", opts.Name, "sid", sid, "format", opts.Format)
	return t, nil
}

// Disconnect leaves the room. It is safe to call when not connected.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	room := r.room
	r.room = nil
	r.mu.Unlock()
	if room != nil {
		room.Disconnect()
		r.log.Info("livekit: disconnected")
	}
	return nil
}
