// Package relay fans transcripts out to downstream consumers over websockets.
//
// Consumers connect to /ws (or to / with a websocket upgrade) and receive
// every broadcast while connected. Delivery is best effort: there is no
// persistence or replay, and a consumer whose send buffer is full misses the
// message. Inbound frames are decoded with [ParseMessage] and handed to the
// configured handler.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/aurarelay/internal/observe"
)

// DefaultPort is the relay port used when none is configured.
const DefaultPort = 8765

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
	serviceName         = "aurarelay"
)

// ErrServerClosed is returned by [Server.Serve] and [Server.ListenAndServe]
// after [Server.Close].
var ErrServerClosed = errors.New("relay: server closed")

// Handler receives every inbound message, including [KindUnhandled] ones. It
// runs on the sending consumer's read goroutine.
type Handler func(ctx context.Context, msg Message)

// Option configures a [Server].
type Option func(*Server)

// WithHandler sets the inbound message handler.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTokenHandler mounts h at GET /token.
func WithTokenHandler(h http.Handler) Option {
	return func(s *Server) { s.token = h }
}

// WithOriginPatterns restricts browser origins allowed to connect. The
// default accepts any origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithSendBuffer sets the per-consumer outbound queue length.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// Server is the consumer relay. It is safe for concurrent use.
type Server struct {
	addr       string
	handler    Handler
	log        *slog.Logger
	metrics    *observe.Metrics
	token      http.Handler
	origins    []string
	sendBuffer int

	httpSrv *http.Server

	mu     sync.Mutex
	conns  map[string]*consumer
	closed bool
}

// New creates a Server that will listen on addr (host:port).
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		log:        slog.Default(),
		origins:    []string{"*"},
		sendBuffer: defaultSendBuffer,
		conns:      make(map[string]*consumer),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving the websocket, status and token
// endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("GET /status", s.serveStatus)
	if s.token != nil {
		mux.Handle("GET /token", s.token)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if isUpgrade(r) {
			s.serveWS(w, r)
			return
		}
		if r.URL.Path != "/" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		s.serveHealth(w, r)
	})
	return mux
}

// ListenAndServe listens on the configured address and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It always returns a non-nil
// error; after Close it is [ErrServerClosed].
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("relay: listening", "addr", ln.Addr().String())
	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// Run serves on the configured address until ctx is cancelled, then closes
// the server. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeContext(ctx, ln)
}

// ServeContext is [Server.Run] on an existing listener.
func (s *Server) ServeContext(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case <-ctx.Done():
		if err := s.Close(); err != nil {
			s.log.Warn("relay: close", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Clients returns the number of connected consumers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SendTranscript forwards text as a command:
// {"type":"query","content":text,"query":text}.
func (s *Server) SendTranscript(text string) {
	n := s.broadcast(KindQuery.String(), encodeQuery(text))
	s.log.Info("relay: sent command", "text", truncate(text, 60), "consumers", n)
}

// SendTranscriptDisplay shows text without forwarding it:
// {"type":"transcript","content":text}.
func (s *Server) SendTranscriptDisplay(text string) {
	s.broadcast(KindTranscript.String(), encodeTranscript(text))
}

// Broadcast queues raw on every open consumer and returns how many accepted
// it. Closed consumers and consumers whose queue is full are skipped.
func (s *Server) Broadcast(raw []byte) int {
	return s.broadcast("raw", raw)
}

func (s *Server) broadcast(kind string, raw []byte) int {
	s.mu.Lock()
	targets := make([]*consumer, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(raw) {
			sent++
		} else if !c.isClosed() {
			s.log.Warn("relay: consumer not writable, message dropped", "consumer", c.id, "type", kind)
		}
	}
	s.metrics.RecordBroadcast(context.Background(), kind)
	return sent
}

// Close disconnects every consumer, clears the set and stops the listener.
// It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = make(map[string]*consumer)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		s.metrics.RelayClients.Add(context.Background(), -1)
		wg.Go(func() { c.close(websocket.StatusGoingAway, "server shutting down") })
	}
	wg.Wait()
	return s.httpSrv.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("relay: websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(defaultReadLimit)

	c := newConsumer(uuid.NewString(), ws, s.sendBuffer)
	if !s.register(c) {
		c.close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.log.Info("relay: consumer connected", "consumer", c.id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx, s.log)

	s.readLoop(ctx, c)

	if s.unregister(c) {
		s.log.Info("relay: consumer disconnected", "consumer", c.id)
	}
	c.close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, c *consumer) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil && !c.isClosed() {
				s.log.Debug("relay: consumer read error", "consumer", c.id, "error", err)
			}
			return
		}
		msg, err := ParseMessage(data)
		if err != nil {
			s.log.Warn("relay: ignoring malformed message", "consumer", c.id, "error", err)
			continue
		}
		s.dispatch(ctx, c, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *consumer, msg Message) {
	switch msg.Kind {
	case KindQuery, KindAction, KindConfirmation:
		s.log.Info("relay: received message", "consumer", c.id, "type", msg.Kind, "content", truncate(msg.Text(), 120))
	case KindResponse:
		s.log.Info("relay: received assistant response", "consumer", c.id)
	case KindTranscript:
		s.log.Debug("relay: received transcript echo", "consumer", c.id)
	default:
		s.log.Warn("relay: unknown message type", "consumer", c.id, "type", msg.Type)
	}
	if s.handler != nil {
		s.handler(ctx, msg)
	}
}

func (s *Server) register(c *consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	s.metrics.RelayClients.Add(context.Background(), 1)
	return true
}

// unregister reports whether c was still in the set.
func (s *Server) unregister(c *consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.id]; !ok {
		return false
	}
	delete(s.conns, c.id)
	s.metrics.RelayClients.Add(context.Background(), -1)
	return true
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "service": serviceName, "clients": s.Clients()})
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "running", "connectedClients": s.Clients()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
