// Package relay fans one decoded audio stream out to any number of
// websocket listeners with periodic sync envelopes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrHubClosed = errors.New("hub closed")

// HubConfig tunes a station hub
type HubConfig struct {
	BufferTargetMs uint32        // advertised in every sync envelope
	SyncEvery      int           // payloads between periodic envelopes
	ClientBuffer   int           // queued payloads before a client is evicted
	PingInterval   time.Duration // websocket ping period
	ClientTimeout  time.Duration // evict clients silent for longer
	ReapInterval   time.Duration // how often idle clients are checked
}

func (c *HubConfig) setDefaults() {
	if c.BufferTargetMs == 0 {
		c.BufferTargetMs = 1000
	}
	if c.SyncEvery <= 0 {
		c.SyncEvery = 60
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 100
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = 60 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = c.ClientTimeout / 4
	}
}

// Hub is the per-station fan-out point. Write broadcasts to every
// registered client; a client that cannot keep up is evicted without
// affecting the others. With no clients, audio is discarded.
type Hub struct {
	station  int
	cfg      HubConfig
	registry *Registry
	metrics  *Metrics
	channel  chan interface{}

	status   string
	statusMu sync.RWMutex

	closed bool
	mu     sync.Mutex // guards closed and wg.Add
	wg     sync.WaitGroup
}

// NewHub creates a hub for station
func NewHub(station int, cfg HubConfig, metrics *Metrics) *Hub {
	cfg.setDefaults()
	metrics.register(station)
	return &Hub{
		station:  station,
		cfg:      cfg,
		registry: NewRegistry(station),
		metrics:  metrics,
		channel:  make(chan interface{}, 100),
	}
}

// Station returns the station index
func (h *Hub) Station() int {
	return h.station
}

// Registry returns the hub's client registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Events delivers ClientJoined, ClientLeft and BufferReported events.
// Events are dropped when nobody drains the channel.
func (h *Hub) Events() <-chan interface{} {
	return h.channel
}

// SetStatus sets the free-text metadata carried in sync envelopes.
func (h *Hub) SetStatus(status string) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	h.status = status
}

// Status returns the current metadata.
func (h *Hub) Status() string {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status
}

// Join registers conn as a new listener and starts its pumps. A closed hub
// rejects the connection with ErrHubClosed.
func (h *Hub) Join(conn Conn, remote string) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	c := newClient(conn, h, remote)
	h.registry.Add(c)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.joined(h.station)
	h.emit(ClientJoined{Station: h.station, ClientID: c.ID, Remote: remote})

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	return c, nil
}

// Write broadcasts one decoded PCM payload. It never fails; failing
// clients are evicted.
func (h *Hub) Write(pcm []byte) (int, error) {
	h.metrics.broadcast(h.station)

	clients := h.registry.Clients()
	if len(clients) == 0 {
		return len(pcm), nil
	}

	data := make([]byte, len(pcm))
	copy(data, pcm)

	for _, c := range clients {
		if err := c.enqueue(data); err != nil {
			h.remove(c, err)
		}
	}
	return len(pcm), nil
}

// Run evicts clients whose heartbeat lapsed until ctx ends, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, c := range h.registry.Idle(h.cfg.ClientTimeout) {
				h.remove(c, fmt.Errorf("%w: silent for more than %s", ErrClientTimeout, h.cfg.ClientTimeout))
			}
		case <-ctx.Done():
			h.Close()
			return
		}
	}
}

// Close unregisters every client and waits for their pumps to exit. Later
// joins are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	clients := h.registry.Clients()
	slog.Info("Closing all station clients", "station", h.station, "clientCount", len(clients))
	for _, c := range clients {
		h.remove(c, ErrClientClosed)
	}
	h.wg.Wait()
}

func (h *Hub) remove(c *Client, reason error) {
	removed := h.registry.Remove(c.ID)
	c.close()
	if !removed {
		return
	}

	h.metrics.left(h.station, reason)
	h.emit(ClientLeft{Station: h.station, ClientID: c.ID, Reason: reason})
	slog.Info("Client departed", "station", h.station, "clientId", c.ID, "reason", reason)
}

func (h *Hub) emit(event interface{}) {
	select {
	case h.channel <- event:
	default:
		slog.Debug("Dropping hub event", "station", h.station, "eventType", fmt.Sprintf("%T", event))
	}
}
