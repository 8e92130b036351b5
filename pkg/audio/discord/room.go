// Package discord provides an [audio.Room] backed by a Discord voice channel
// via the bwmarrin/discordgo library. It bridges the relay's PCM [audio.Frame]
// output with Discord's 48 kHz stereo Opus voice transport.
//
// Connect opens a bot session and joins the configured channel; a published
// track speaks into that channel until it is closed.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/aurarelay/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Room = (*Room)(nil)

// Room implements [audio.Room] for a single Discord voice channel.
//
// Room is safe for concurrent use.
type Room struct {
	token     string
	guildID   string
	channelID string
	log       *slog.Logger
	pacerOpts []audio.PacerOption

	mu      sync.Mutex
	session *discordgo.Session
	vc      *discordgo.VoiceConnection
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

// New creates a Room for the given bot token, guild and voice channel.
func New(token, guildID, channelID string, opts ...Option) *Room {
	r := &Room{
		token:     token,
		guildID:   guildID,
		channelID: channelID,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect opens the bot session and joins the voice channel. It is a no-op if
// already connected.
func (r *Room) Connect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vc != nil {
		return nil
	}

	session, err := discordgo.New("Bot " + r.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	// mute=false (we send audio), deaf=true (inbound audio is not consumed).
	vc, err := session.ChannelVoiceJoin(r.guildID, r.channelID, false, true)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("discord: join voice channel %q: %w", r.channelID, err)
	}
	r.session = session
	r.vc = vc
	r.log.Info("discord: joined voice channel", "guild", r.guildID, "channel", r.channelID)
	return nil
}

// PublishTrack returns a track that speaks into the joined voice channel.
// Discord carries a single outbound stream per connection, so the name is only
// used for logging.
func (r *Room) PublishTrack(_ context.Context, opts audio.TrackOptions) (audio.Track, error) {
	r.mu.Lock()
	vc := r.vc
	r.mu.Unlock()
	if vc == nil {
		return nil, audio.ErrNotConnected
	}
	t, err := newTrack(opts.Format, vc.OpusSend, vc.Speaking, audio.NewPacer(r.pacerOpts...), r.log)
	if err != nil {
		return nil, err
	}
	r.log.Info("discord: track ready", "name", opts.Name, "format", opts.Format)
	return t, nil
}

// Disconnect leaves the voice channel and closes the bot session. It is safe
// to call when not connected.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	vc, session := r.vc, r.session
	r.vc, r.session = nil, nil
	r.mu.Unlock()

	var err error
	if vc != nil {
		if dErr := vc.Disconnect(); dErr != nil {
			err = fmt.Errorf("discord: leave voice channel: %w", dErr)
		}
	}
	if session != nil {
		if cErr := session.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("discord: close session: %w", cErr)
		}
	}
	return err
}
