// Package ingest implements the upstream event ingestion client: a long-lived
// websocket connection that decodes inbound messages into [Event] values and
// hands them to a single serialized handler in strict receipt order.
//
// The socket reader never runs handlers itself. Decoded events are appended to
// an unbounded FIFO drained by one worker goroutine, so a slow handler neither
// stalls socket reads nor lets a newer event overtake an older one.
//
// Any transport closure, clean or not, schedules a reconnect after the delay
// produced by the client's [backoff.BackOff] policy (a fixed 1.5 s by
// default) until [Client.Close] is called.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/MrWong99/aurarelay/internal/observe"
)

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = 1500 * time.Millisecond

// defaultReadLimit bounds a single inbound message.
const defaultReadLimit = 1 << 20

// ErrClosed is returned by [Client.Run] when the client was closed before or
// while running.
var ErrClosed = errors.New("ingest: client closed")

// Status is the connection state reported through [Handlers.OnStatus].
type Status int

const (
	// StatusConnecting is reported before every dial attempt.
	StatusConnecting Status = iota
	// StatusOpen is reported once the websocket handshake completes.
	StatusOpen
	// StatusClosed is reported after every connection ends, including
	// failed dials.
	StatusClosed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Handlers receive client callbacks. Any of them may be nil.
//
// OnStatus and OnError may be called from the reader or the worker goroutine.
// OnMessage is only ever called from the worker goroutine, one at a time.
type Handlers struct {
	OnStatus  func(Status)
	OnError   func(error)
	OnMessage func(ctx context.Context, ev Event) error
}

// Option configures a [Client].
type Option func(*Client)

// WithReconnectDelay sets a constant reconnect delay. It replaces any policy
// set by [WithBackOff].
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.bo = backoff.NewConstantBackOff(d) }
}

// WithBackOff sets the reconnect policy. Returning [backoff.Stop] ends
// [Client.Run] with an error.
func WithBackOff(b backoff.BackOff) Option {
	return func(c *Client) { c.bo = b }
}

// WithHandlerTimeout bounds every OnMessage call. Zero disables the bound.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Client) { c.handlerTimeout = d }
}

// WithDialOptions passes options through to [websocket.Dial].
func WithDialOptions(o *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = o }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is the ingestion websocket client. Create one with [New] and drive
// it with [Client.Run] or [Client.Start].
type Client struct {
	url            string
	h              Handlers
	bo             backoff.BackOff
	handlerTimeout time.Duration
	dialOpts       *websocket.DialOptions
	log            *slog.Logger
	metrics        *observe.Metrics

	q     *queue
	state atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client for url. The connection is not opened until
// [Client.Run] or [Client.Start] is called.
func New(url string, h Handlers, opts ...Option) *Client {
	c := &Client{
		url:  url,
		h:    h,
		bo:   backoff.NewConstantBackOff(DefaultReconnectDelay),
		log:  slog.Default(),
		q:    newQueue(),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start runs the client in the background. Errors that end the run loop are
// reported through OnError.
func (c *Client) Start(ctx context.Context) {
	go func() {
		if err := c.Run(ctx); err != nil && !errors.Is(err, ErrClosed) {
			c.reportError(err)
		}
	}()
}

// Run connects, reads and reconnects until ctx is cancelled or [Client.Close]
// is called. It returns nil on context cancellation and [ErrClosed] after
// Close.
func (c *Client) Run(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.work(ctx)
	}()
	defer func() {
		cancel()
		<-workerDone
	}()

	c.bo.Reset()
	for {
		c.session(ctx)
		c.status(StatusClosed)

		if c.isClosed() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := c.bo.NextBackOff()
		if delay == backoff.Stop {
			return errors.New("ingest: reconnect policy gave up")
		}
		c.metrics.IngestReconnects.Add(ctx, 1)
		c.log.Info("ingest: reconnecting", "url", c.url, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			if c.isClosed() {
				return ErrClosed
			}
			return nil
		}
	}
}

// Close stops reconnection, closes the live socket and stops the worker.
// Queued events that have not started are discarded. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		}
	})
	return nil
}

// session runs one connection from dial to closure.
func (c *Client) session(ctx context.Context) {
	c.status(StatusConnecting)
	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
	if err != nil {
		if ctx.Err() == nil {
			c.reportError(fmt.Errorf("ingest: dial %s: %w", c.url, err))
		}
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return
	}
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	c.status(StatusOpen)
	c.bo.Reset()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.reportError(fmt.Errorf("ingest: read: %w", err))
			}
			return
		}
		c.accept(ctx, data)
	}
}

// accept decodes one frame. Text and binary frames are treated alike.
func (c *Client) accept(ctx context.Context, data []byte) {
	ev, ok, err := Normalize(data)
	switch {
	case err != nil:
		c.metrics.RecordIngestEvent(ctx, observe.OutcomeDecodeError)
		c.reportError(err)
	case !ok:
		c.metrics.RecordIngestEvent(ctx, observe.OutcomeDropped)
	default:
		c.q.push(ev)
	}
}

// work drains the queue one event at a time until ctx ends.
func (c *Client) work(ctx context.Context) {
	for {
		ev, ok := c.q.pop(ctx)
		if !ok {
			return
		}
		c.handle(ctx, ev)
	}
}

func (c *Client) handle(ctx context.Context, ev Event) {
	if c.h.OnMessage == nil {
		return
	}
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordIngestEvent(ctx, observe.OutcomeError)
			c.reportError(fmt.Errorf("ingest: handler panic: %v", r))
		}
	}()
	if err := c.h.OnMessage(ctx, ev); err != nil {
		c.metrics.RecordIngestEvent(ctx, observe.OutcomeError)
		c.reportError(fmt.Errorf("ingest: handle message: %w", err))
		return
	}
	c.metrics.RecordIngestEvent(ctx, observe.OutcomeOK)
}

// Status returns the connection state last reported through OnStatus.
func (c *Client) Status() Status {
	return Status(c.state.Load())
}

func (c *Client) status(s Status) {
	c.state.Store(int32(s))
	c.log.Debug("ingest: status", "status", s)
	if c.h.OnStatus != nil {
		c.h.OnStatus(s)
	}
}

func (c *Client) reportError(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
		return
	}
	c.log.Warn("ingest: error", "error", err)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
