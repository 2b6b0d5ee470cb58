package relay

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ClientInfo is a point-in-time view of one registered listener.
type ClientInfo struct {
	ID         string    `json:"id"`
	Remote     string    `json:"remote,omitempty"`
	JoinedAt   time.Time `json:"joinedAt"`
	LastSeen   time.Time `json:"lastSeen"`
	BufferedMs uint64    `json:"bufferedMs"`
}

type entry struct {
	client *Client
	info   ClientInfo
}

// Registry maps client identity to session state. Critical sections never
// span I/O.
type Registry struct {
	station int
	clients map[string]*entry
	mutex   sync.RWMutex
	now     func() time.Time
}

// NewRegistry creates an empty registry for station
func NewRegistry(station int) *Registry {
	return &Registry{
		station: station,
		clients: make(map[string]*entry),
		now:     time.Now,
	}
}

// Add registers a client
func (r *Registry) Add(c *Client) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	r.clients[c.ID] = &entry{
		client: c,
		info: ClientInfo{
			ID:       c.ID,
			Remote:   c.Remote,
			JoinedAt: now,
			LastSeen: now,
		},
	}
	slog.Info("Client added to station", "station", r.station, "clientId", c.ID, "clientCount", len(r.clients))
}

// Remove unregisters a client and reports whether it was present
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[id]; !exists {
		return false
	}
	delete(r.clients, id)
	slog.Info("Client removed from station", "station", r.station, "clientId", id, "clientCount", len(r.clients))
	return true
}

// Touch refreshes a client's liveness
func (r *Registry) Touch(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if e, exists := r.clients[id]; exists {
		e.info.LastSeen = r.now()
	}
}

// SetBuffered records a client's reported buffer level
func (r *Registry) SetBuffered(id string, ms uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if e, exists := r.clients[id]; exists {
		e.info.BufferedMs = ms
		e.info.LastSeen = r.now()
	}
}

// Get returns a client's info
func (r *Registry) Get(id string) (ClientInfo, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.clients[id]
	if !exists {
		return ClientInfo{}, false
	}
	return e.info, true
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.clients)
}

// Clients returns the registered clients
func (r *Registry) Clients() []*Client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*Client, 0, len(r.clients))
	for _, e := range r.clients {
		result = append(result, e.client)
	}
	return result
}

// Snapshot returns client infos ordered by join time
func (r *Registry) Snapshot() []ClientInfo {
	r.mutex.RLock()
	result := make([]ClientInfo, 0, len(r.clients))
	for _, e := range r.clients {
		result = append(result, e.info)
	}
	r.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// Idle returns clients not seen within timeout
func (r *Registry) Idle(timeout time.Duration) []*Client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	now := r.now()
	var result []*Client
	for _, e := range r.clients {
		if now.Sub(e.info.LastSeen) > timeout {
			result = append(result, e.client)
		}
	}
	return result
}
