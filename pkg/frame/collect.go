package frame

import (
	"context"
	"fmt"
)

// ChunkReader yields the chunks of one transport frame. A nil chunk with a
// nil error marks the end of the frame.
type ChunkReader interface {
	Read(ctx context.Context) ([]byte, error)
}

// Collect concatenates every chunk of a frame into one buffer.
func Collect(ctx context.Context, r ChunkReader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame chunk: %w", err)
		}
		if chunk == nil {
			return buf, nil
		}
		buf = append(buf, chunk...)
	}
}

// ReadPayload collects a frame and strips its length prefix.
func ReadPayload(ctx context.Context, r ChunkReader) ([]byte, error) {
	buf, err := Collect(ctx, r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(buf)
}
