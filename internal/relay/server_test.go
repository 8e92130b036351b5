package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/aurarelay/internal/observe"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := New("127.0.0.1:0", append([]Option{WithMetrics(met)}, opts...)...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", s.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return m
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

type messageLog struct {
	mu   sync.Mutex
	msgs []Message
	seen chan struct{}
}

func newMessageLog() *messageLog {
	return &messageLog{seen: make(chan struct{}, 16)}
}

func (l *messageLog) handle(_ context.Context, msg Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
	l.seen <- struct{}{}
}

func (l *messageLog) wait(t *testing.T, n int) []Message {
	t.Helper()
	for range n {
		select {
		case <-l.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.msgs...)
}

// ─── broadcast ────────────────────────────────────────────────────────────────

func TestSendTranscript_ReachesAllConsumers(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	a := dial(t, ts, "/ws")
	b := dial(t, ts, "/")
	waitClients(t, s, 2)

	s.SendTranscript("run the tests")
	for _, c := range []*websocket.Conn{a, b} {
		m := readJSON(t, c)
		if m["type"] != "query" || m["content"] != "run the tests" || m["query"] != "run the tests" {
			t.Errorf("received %v", m)
		}
	}

	s.SendTranscriptDisplay("hey aura run the tests")
	for _, c := range []*websocket.Conn{a, b} {
		m := readJSON(t, c)
		if m["type"] != "transcript" || m["content"] != "hey aura run the tests" {
			t.Errorf("received %v", m)
		}
		if _, ok := m["query"]; ok {
			t.Errorf("transcript message carries a query field: %v", m)
		}
	}
}

func TestBroadcast_SkipsClosedConsumers(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	open := dial(t, ts, "/ws")
	gone := dial(t, ts, "/ws")
	waitClients(t, s, 2)

	if err := gone.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitClients(t, s, 1)

	if n := s.Broadcast([]byte(`{"type":"action","content":"x"}`)); n != 1 {
		t.Errorf("Broadcast reached %d consumers, want 1", n)
	}
	if m := readJSON(t, open); m["type"] != "action" {
		t.Errorf("received %v", m)
	}
}

func TestBroadcast_NoConsumers(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	if n := s.Broadcast([]byte(`{}`)); n != 0 {
		t.Errorf("Broadcast = %d, want 0", n)
	}
}

func TestBroadcast_PreservesOrder(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	c := dial(t, ts, "/ws")
	waitClients(t, s, 1)

	for _, text := range []string{"one", "two", "three"} {
		s.SendTranscriptDisplay(text)
	}
	for _, want := range []string{"one", "two", "three"} {
		if m := readJSON(t, c); m["content"] != want {
			t.Errorf("content = %v, want %s", m["content"], want)
		}
	}
}

// ─── inbound ──────────────────────────────────────────────────────────────────

func TestInbound_DispatchesAndSurvivesMalformed(t *testing.T) {
	t.Parallel()
	log := newMessageLog()
	s, ts := newTestServer(t, WithHandler(log.handle))
	c := dial(t, ts, "/ws")
	waitClients(t, s, 1)

	ctx := context.Background()
	for _, raw := range []string{
		`{"type":"response","content":"Done, all tests pass."}`,
		`this is not json`,
		`{"type":"telemetry","content":"x"}`,
		`{"type":"confirmation","content":"ok"}`,
	} {
		if err := c.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	msgs := log.wait(t, 3)
	wantKinds := []Kind{KindResponse, KindUnhandled, KindConfirmation}
	for i, k := range wantKinds {
		if msgs[i].Kind != k {
			t.Errorf("message %d kind = %v, want %v", i, msgs[i].Kind, k)
		}
	}
	if msgs[0].Content != "Done, all tests pass." {
		t.Errorf("response content = %q", msgs[0].Content)
	}
	if msgs[1].Type != "telemetry" {
		t.Errorf("unhandled type = %q, want telemetry", msgs[1].Type)
	}
	if s.Clients() != 1 {
		t.Errorf("clients = %d, want connection kept open", s.Clients())
	}
}

// ─── HTTP endpoints ───────────────────────────────────────────────────────────

func TestHealthAndStatus(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	dial(t, ts, "/ws")
	waitClients(t, s, 1)

	h := getJSON(t, ts.URL+"/")
	if h["status"] != "ok" || h["service"] != "aurarelay" || h["clients"] != float64(1) {
		t.Errorf("health = %v", h)
	}
	st := getJSON(t, ts.URL+"/status")
	if st["status"] != "running" || st["connectedClients"] != float64(1) {
		t.Errorf("status = %v", st)
	}

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestTokenEndpoint(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/token")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("token without handler: status %d, want 404", resp.StatusCode)
	}

	_, ts = newTestServer(t, WithTokenHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"token": "jwt"})
	})))
	if got := getJSON(t, ts.URL+"/token"); got["token"] != "jwt" {
		t.Errorf("token response = %v", got)
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestClose_DisconnectsConsumers(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)
	c := dial(t, ts, "/ws")
	waitClients(t, s, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := c.Read(ctx)
		readErr <- err
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Clients() != 0 {
		t.Errorf("clients = %d after Close, want 0", s.Clients())
	}
	if err := <-readErr; websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("read after Close: err = %v, want going-away close", err)
	}
	if n := s.Broadcast([]byte(`{}`)); n != 0 {
		t.Errorf("Broadcast after Close = %d, want 0", n)
	}
}

func TestServe_ReturnsErrServerClosed(t *testing.T) {
	t.Parallel()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := New("127.0.0.1:0", WithMetrics(met))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	getJSON(t, "http://"+ln.Addr().String()+"/status")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s := New("127.0.0.1:0", WithMetrics(met))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ─── truncate ─────────────────────────────────────────────────────────────────

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "open", 10, "open"},
		{"ascii cut", "open the readme", 4, "open…"},
		{"inside two-byte rune", "ödeme", 1, "…"},
		{"after two-byte rune", "ödeme", 2, "ö…"},
		{"inside three-byte rune", "ab€cd", 4, "ab…"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tc.in, tc.n)
			if got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tc.in, tc.n, got)
			}
		})
	}
}
