package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// consumer is one connected downstream socket with its own writer goroutine.
type consumer struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newConsumer(id string, ws *websocket.Conn, buffer int) *consumer {
	return &consumer{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// enqueue reports whether raw was queued. It never blocks.
func (c *consumer) enqueue(raw []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *consumer) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *consumer) writeLoop(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case raw := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, raw)
			cancel()
			if err != nil {
				log.Debug("relay: consumer write failed", "consumer", c.id, "error", err)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *consumer) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}
