package roomtoken

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMinter(t *testing.T, opts ...Option) *Minter {
	t.Helper()
	m, err := New("APIkey", "s3cret", append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMint_Claims(t *testing.T) {
	t.Parallel()
	m := newMinter(t)

	tok, err := m.Mint("standup", "pipeline-agent")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	c, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Issuer != "APIkey" || c.Subject != "pipeline-agent" || c.Name != "pipeline-agent" {
		t.Errorf("iss/sub/name = %q/%q/%q", c.Issuer, c.Subject, c.Name)
	}
	if !c.NotBefore.Time.Equal(fixedNow) {
		t.Errorf("nbf = %v, want %v", c.NotBefore.Time, fixedNow)
	}
	if !c.ExpiresAt.Time.Equal(fixedNow.Add(DefaultTTL)) {
		t.Errorf("exp = %v, want %v", c.ExpiresAt.Time, fixedNow.Add(DefaultTTL))
	}
	want := VideoGrant{Room: "standup", RoomJoin: true, CanPublish: true, CanSubscribe: true}
	if c.Video == nil || *c.Video != want {
		t.Errorf("video grant = %+v, want %+v", c.Video, want)
	}
}

func TestMint_WireFormat(t *testing.T) {
	t.Parallel()
	tok, err := newMinter(t).Mint("r", "i")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if parsed.Method.Alg() != "HS256" {
		t.Errorf("alg = %s, want HS256", parsed.Method.Alg())
	}
	video, ok := parsed.Claims.(jwt.MapClaims)["video"].(map[string]any)
	if !ok {
		t.Fatalf("video claim missing: %v", parsed.Claims)
	}
	for _, key := range []string{"room", "roomJoin", "canPublish", "canSubscribe"} {
		if _, ok := video[key]; !ok {
			t.Errorf("video grant missing %q", key)
		}
	}
}

func TestVerify_RejectsOtherSecretAndExpired(t *testing.T) {
	t.Parallel()
	tok, err := newMinter(t, WithTTL(time.Minute)).Mint("r", "i")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	other, err := New("APIkey", "different", WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := other.Verify(tok); !errors.Is(err, jwt.ErrSignatureInvalid) {
		t.Errorf("other secret: err = %v, want signature invalid", err)
	}

	later, err := New("APIkey", "s3cret", WithClock(func() time.Time { return fixedNow.Add(time.Hour) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := later.Verify(tok); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired: err = %v, want token expired", err)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := New("", "secret"); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("missing key: err = %v", err)
	}
	if _, err := New("key", ""); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("missing secret: err = %v", err)
	}
}

func TestMint_RequiresRoomAndIdentity(t *testing.T) {
	t.Parallel()
	m := newMinter(t)
	if _, err := m.Mint("", "i"); err == nil {
		t.Error("empty room: want error")
	}
	if _, err := m.Mint("r", ""); err == nil {
		t.Error("empty identity: want error")
	}
}

func TestTokenSource_MintsPerCall(t *testing.T) {
	t.Parallel()
	m := newMinter(t)
	src := m.TokenSource("r", "agent")
	tok, err := src(context.Background())
	if err != nil {
		t.Fatalf("TokenSource: %v", err)
	}
	c, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Video.Room != "r" || c.Subject != "agent" {
		t.Errorf("claims = %+v", c)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := newMinter(t)
	h := Handler(m, "wss://example.livekit.cloud", nil)

	tests := []struct {
		query        string
		wantRoom     string
		wantIdentity string
	}{
		{"", DefaultRoom, DefaultIdentity},
		{"?room=standup&identity=laptop", "standup", "laptop"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token"+tt.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["url"] != "wss://example.livekit.cloud" {
			t.Errorf("url = %q", body["url"])
		}
		c, err := m.Verify(body["token"])
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if c.Video.Room != tt.wantRoom || c.Subject != tt.wantIdentity {
			t.Errorf("query %q: room/identity = %q/%q, want %q/%q", tt.query, c.Video.Room, c.Subject, tt.wantRoom, tt.wantIdentity)
		}
	}
}
