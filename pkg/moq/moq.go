// Package moq is a minimal track/group/frame transport modeled on Media over
// QUIC. A track is an ordered, append-only log of groups; a group is an
// ordered list of frames. Consumers start at the latest group of a track and
// always read a group from its first frame.
package moq

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("transport closed")
	ErrTrackExists = errors.New("track already published")
	ErrGroupClosed = errors.New("group closed")
)

// Session publishes and subscribes to named tracks.
type Session interface {
	Publish(ctx context.Context, name string) (TrackProducer, error)
	Subscribe(ctx context.Context, name string) (TrackConsumer, error)
	Close() error
}

// TrackProducer owns the write side of a track.
type TrackProducer interface {
	CreateGroup(ctx context.Context, id uint64) (GroupProducer, error)
	Close() error
}

// GroupProducer appends frames to one group. Close signals end of group to
// every consumer.
type GroupProducer interface {
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// TrackConsumer is one independent cursor over a track. NextGroup returns
// nil, nil once the track is closed and drained.
type TrackConsumer interface {
	NextGroup(ctx context.Context) (GroupConsumer, error)
	Close() error
}

// GroupConsumer reads one group. NextFrame returns nil, nil at end of group.
type GroupConsumer interface {
	ID() uint64
	NextFrame(ctx context.Context) (FrameConsumer, error)
}

// FrameConsumer yields the chunks of one frame. Read returns nil, nil at end
// of frame.
type FrameConsumer interface {
	Read(ctx context.Context) ([]byte, error)
}

// chunk is a single-chunk frame.
type chunk struct {
	data []byte
	done bool
}

func newChunk(data []byte) *chunk {
	return &chunk{data: data}
}

func (c *chunk) Read(ctx context.Context) ([]byte, error) {
	if c.done {
		return nil, nil
	}
	c.done = true
	if c.data == nil {
		return []byte{}, nil
	}
	return c.data, nil
}
