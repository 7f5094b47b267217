package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

var (
	// ErrConnClosed is returned by Send after the connection shut down.
	ErrConnClosed = errors.New("ws: connection closed")
	// ErrSlowConsumer is returned by Send when the outgoing queue is full.
	// The connection is closed so the client reconnects with a fresh snapshot
	// instead of silently missing frames.
	ErrSlowConsumer = errors.New("ws: send buffer full")
)

// Conn is one websocket connection. Only writePump writes to the socket;
// everything else enqueues through Send.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closeCode int
	closeText string
	pumpDone  chan struct{}
}

func newConn(wsConn *websocket.Conn, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:       id,
		ws:       wsConn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		logger:   logger.With(slog.String("conn_id", id)),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// Send queues payload for delivery without blocking.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.Close(websocket.ClosePolicyViolation, "client too slow")
		return ErrSlowConsumer
	}
}

// Close asks the writer to flush queued frames, send a close frame with code
// and shut the socket. Only the first call has any effect.
func (c *Conn) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// wait blocks until the writer has exited.
func (c *Conn) wait() { <-c.pumpDone }

// prepareRead sets the read limit and the keepalive deadline handling.
func (c *Conn) prepareRead() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// writePump pumps queued frames to the socket in order and sends periodic
// pings. On Close it drains what is already queued, then sends the close
// frame.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(message) {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			for {
				select {
				case message := <-c.send:
					if !c.write(message) {
						return
					}
					continue
				default:
				}
				break
			}
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

func (c *Conn) write(message []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Debug("ws: write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}
