package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var (
	ErrClientSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed         = errors.New("client connection closed")
	ErrClientTimeout        = errors.New("client heartbeat timeout")
)

// Conn is the subset of *websocket.Conn a client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one listener connection. Audio is queued on send and written by
// writePump; sync envelopes are generated by writePump from its own count.
type Client struct {
	ID     string
	Remote string

	conn Conn
	hub  *Hub
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex
	done     chan struct{}
}

func newClient(conn Conn, hub *Hub, remote string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		ID:     uuid.NewString(),
		Remote: remote,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, hub.cfg.ClientBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// enqueue queues an audio payload without blocking.
func (c *Client) enqueue(data []byte) error {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientSendBufferFull
	}
}

// close stops both pumps and closes the connection. Safe to call repeatedly.
func (c *Client) close() bool {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return false
	}
	c.closed = true
	c.closedMu.Unlock()

	c.cancel()
	if err := c.conn.Close(); err != nil {
		slog.Debug("Error closing client connection", "clientId", c.ID, "err", err)
	}
	return true
}

// Done is closed once the write pump has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump reads advisory reports until the connection fails.
func (c *Client) readPump() {
	defer c.hub.remove(c, ErrClientClosed)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.hub.registry.Touch(c.ID)
		return nil
	})

	for {
		messageType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				slog.Debug("Client read error", "clientId", c.ID, "err", err)
			}
			return
		}

		c.hub.registry.Touch(c.ID)
		if messageType == websocket.TextMessage {
			c.handleReport(msg)
		}
	}
}

func (c *Client) handleReport(msg []byte) {
	var report ClientReport
	if err := json.Unmarshal(msg, &report); err != nil {
		slog.Warn("Ignoring malformed client report", "clientId", c.ID, "err", err)
		return
	}
	if report.BufferedMs == nil {
		return
	}

	c.hub.registry.SetBuffered(c.ID, *report.BufferedMs)
	c.hub.emit(BufferReported{Station: c.hub.station, ClientID: c.ID, BufferedMs: *report.BufferedMs})
	slog.Debug("Client buffer report", "clientId", c.ID, "bufferedMs", *report.BufferedMs)
}

// writePump sends the initial envelope, then audio, a sync envelope after
// every SyncEvery payloads, and pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	var sent uint32
	if err := c.writeInfo(sent); err != nil {
		c.hub.remove(c, err)
		return
	}

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				c.hub.remove(c, err)
				return
			}
			sent++
			c.hub.metrics.delivered(c.hub.station)

			if sent%uint32(c.hub.cfg.SyncEvery) == 0 {
				if err := c.writeInfo(sent); err != nil {
					c.hub.remove(c, err)
					return
				}
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c, err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writeInfo(sequence uint32) error {
	data, err := newStreamInfo(sequence, c.hub.cfg.BufferTargetMs, c.hub.Status()).marshal()
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
