package moq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Memory retention defaults
const (
	DefaultMaxGroups    = 64
	DefaultRetainClosed = 16
)

// MemoryOptions tunes retention of the in-memory broker.
type MemoryOptions struct {
	MaxGroups    int // groups kept per track; older groups are trimmed
	RetainClosed int // closed tracks kept for late subscribers
}

// Memory is an in-process broker.
type Memory struct {
	opts     MemoryOptions
	tracks   map[string]*track
	closed   []string // closed track names, oldest first
	announce chan struct{}
	shut     bool
	mu       sync.Mutex
}

// NewMemory creates an in-process broker.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = DefaultMaxGroups
	}
	if opts.RetainClosed <= 0 {
		opts.RetainClosed = DefaultRetainClosed
	}
	return &Memory{
		opts:     opts,
		tracks:   make(map[string]*track),
		announce: make(chan struct{}),
	}
}

// Publish announces a new track. A closed track with the same name is
// replaced.
func (m *Memory) Publish(ctx context.Context, name string) (TrackProducer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shut {
		return nil, ErrClosed
	}
	if t, exists := m.tracks[name]; exists && !t.isClosed() {
		return nil, fmt.Errorf("%w: %s", ErrTrackExists, name)
	}

	t := newTrack(m, name, m.opts.MaxGroups)
	m.tracks[name] = t

	close(m.announce)
	m.announce = make(chan struct{})

	slog.Debug("Track published", "track", name, "trackCount", len(m.tracks))
	return t, nil
}

// Subscribe waits for name to be announced and returns a consumer positioned
// at its latest group.
func (m *Memory) Subscribe(ctx context.Context, name string) (TrackConsumer, error) {
	for {
		m.mu.Lock()
		if m.shut {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		t, exists := m.tracks[name]
		wait := m.announce
		m.mu.Unlock()

		if exists {
			return t.subscribe(), nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close shuts the broker down; blocked consumers return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		return nil
	}
	m.shut = true
	tracks := make([]*track, 0, len(m.tracks))
	for _, t := range m.tracks {
		tracks = append(tracks, t)
	}
	m.tracks = make(map[string]*track)
	close(m.announce)
	m.mu.Unlock()

	for _, t := range tracks {
		t.shutdown()
	}
	return nil
}

// TrackCount returns the number of tracks currently held.
func (m *Memory) TrackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

func (m *Memory) retire(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = append(m.closed, name)
	for len(m.closed) > m.opts.RetainClosed {
		oldest := m.closed[0]
		m.closed = m.closed[1:]
		if t, exists := m.tracks[oldest]; exists && t.isClosed() {
			delete(m.tracks, oldest)
			slog.Debug("Track retired", "track", oldest)
		}
	}
}

type track struct {
	broker    *Memory
	name      string
	maxGroups int
	groups    []*group
	base      int // absolute index of groups[0]
	closed    bool
	shut      bool
	changed   chan struct{}
	mu        sync.Mutex
}

func newTrack(broker *Memory, name string, maxGroups int) *track {
	return &track{
		broker:    broker,
		name:      name,
		maxGroups: maxGroups,
		changed:   make(chan struct{}),
	}
}

func (t *track) notifyLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *track) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *track) CreateGroup(ctx context.Context, id uint64) (GroupProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shut {
		return nil, ErrClosed
	}
	if t.closed {
		return nil, fmt.Errorf("track %s is closed", t.name)
	}

	g := newGroup(id)
	t.groups = append(t.groups, g)
	if len(t.groups) > t.maxGroups {
		trim := len(t.groups) - t.maxGroups
		t.groups = t.groups[trim:]
		t.base += trim
	}
	t.notifyLocked()
	return g, nil
}

func (t *track) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.notifyLocked()
	t.mu.Unlock()

	t.broker.retire(t.name)
	return nil
}

func (t *track) shutdown() {
	t.mu.Lock()
	t.shut = true
	t.notifyLocked()
	groups := t.groups
	t.mu.Unlock()

	for _, g := range groups {
		g.shutdown()
	}
}

func (t *track) subscribe() *trackConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.base
	if len(t.groups) > 0 {
		next = t.base + len(t.groups) - 1
	}
	return &trackConsumer{track: t, next: next}
}

type trackConsumer struct {
	track *track
	next  int
}

func (c *trackConsumer) NextGroup(ctx context.Context) (GroupConsumer, error) {
	t := c.track
	for {
		t.mu.Lock()
		if t.shut {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if c.next < t.base {
			c.next = t.base
		}
		if i := c.next - t.base; i < len(t.groups) {
			g := t.groups[i]
			c.next++
			t.mu.Unlock()
			return &groupConsumer{group: g}, nil
		}
		if t.closed {
			t.mu.Unlock()
			return nil, nil
		}
		wait := t.changed
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *trackConsumer) Close() error {
	return nil
}

type group struct {
	id      uint64
	frames  [][]byte
	closed  bool
	shut    bool
	changed chan struct{}
	mu      sync.Mutex
}

func newGroup(id uint64) *group {
	return &group{id: id, changed: make(chan struct{})}
}

func (g *group) WriteFrame(ctx context.Context, data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.shut {
		return ErrClosed
	}
	if g.closed {
		return ErrGroupClosed
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	g.frames = append(g.frames, buf)

	close(g.changed)
	g.changed = make(chan struct{})
	return nil
}

func (g *group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	close(g.changed)
	g.changed = make(chan struct{})
	return nil
}

func (g *group) shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shut = true
	close(g.changed)
	g.changed = make(chan struct{})
}

type groupConsumer struct {
	group *group
	next  int
}

func (c *groupConsumer) ID() uint64 {
	return c.group.id
}

func (c *groupConsumer) NextFrame(ctx context.Context) (FrameConsumer, error) {
	g := c.group
	for {
		g.mu.Lock()
		if g.shut {
			g.mu.Unlock()
			return nil, ErrClosed
		}
		if c.next < len(g.frames) {
			data := g.frames[c.next]
			c.next++
			g.mu.Unlock()
			return newChunk(data), nil
		}
		if g.closed {
			g.mu.Unlock()
			return nil, nil
		}
		wait := g.changed
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
