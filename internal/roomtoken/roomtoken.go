// Package roomtoken mints LiveKit access tokens.
//
// Tokens are HS256 JWTs signed with the API secret, issued by the API key,
// with the participant identity as subject and a video grant for one room.
package roomtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/aurarelay/pkg/audio"
)

// DefaultTTL is the lifetime of minted tokens.
const DefaultTTL = 6 * time.Hour

// Defaults used by [Handler] when the request leaves room or identity empty.
const (
	DefaultRoom     = "demo"
	DefaultIdentity = "iphone"
)

// ErrMissingCredentials is returned by [New] without an API key or secret.
var ErrMissingCredentials = errors.New("roomtoken: api key and secret are required")

// VideoGrant is the LiveKit room permission set.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin"`
	CanPublish   bool   `json:"canPublish"`
	CanSubscribe bool   `json:"canSubscribe"`
}

// Claims is the LiveKit token payload.
type Claims struct {
	Name  string      `json:"name,omitempty"`
	Video *VideoGrant `json:"video,omitempty"`
	jwt.RegisteredClaims
}

// Option configures a [Minter].
type Option func(*Minter)

// WithTTL sets the token lifetime. Default: [DefaultTTL].
func WithTTL(d time.Duration) Option {
	return func(m *Minter) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) { m.now = now }
}

// Minter signs room tokens. It is safe for concurrent use.
type Minter struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Minter for the given API key and secret.
func New(apiKey, apiSecret string, opts ...Option) (*Minter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingCredentials
	}
	m := &Minter{apiKey: apiKey, secret: []byte(apiSecret), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Mint returns a signed token that lets identity join, publish and subscribe
// in room.
func (m *Minter) Mint(room, identity string) (string, error) {
	if room == "" || identity == "" {
		return "", fmt.Errorf("roomtoken: room and identity are required")
	}
	now := m.now()
	claims := &Claims{
		Name: identity,
		Video: &VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanPublish:   true,
			CanSubscribe: true,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("roomtoken: sign: %w", err)
	}
	return signed, nil
}

// TokenSource returns an [audio.TokenSource] that mints a fresh token for
// every connection attempt.
func (m *Minter) TokenSource(room, identity string) audio.TokenSource {
	return func(context.Context) (string, error) {
		return m.Mint(room, identity)
	}
}

// Verify parses a token minted with the same secret and returns its claims.
func (m *Minter) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("roomtoken: verify: %w", err)
	}
	return claims, nil
}

// Handler serves GET /token?room=&identity= as {"token":..., "url":...}.
// Missing query values fall back to [DefaultRoom] and [DefaultIdentity].
func Handler(m *Minter, url string, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = DefaultRoom
		}
		identity := r.URL.Query().Get("identity")
		if identity == "" {
			identity = DefaultIdentity
		}

		w.Header().Set("Content-Type", "application/json")
		token, err := m.Mint(room, identity)
		if err != nil {
			log.Error("roomtoken: mint failed", "room", room, "identity", identity, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		log.Info("roomtoken: issued token", "room", room, "identity", identity)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token, "url": url})
	})
}
