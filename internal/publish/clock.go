package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"airwave/pkg/frame"
	"airwave/pkg/moq"
)

// Clock emits elapsed milliseconds since its start on a track, one group per
// tick, until stopped.
type Clock struct {
	track  moq.TrackProducer
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartClock begins emitting on track. The first sample (0 ms) is written
// immediately.
func StartClock(ctx context.Context, track moq.TrackProducer, interval time.Duration, logger *slog.Logger) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Clock{
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx, interval, logger)
	return c
}

func (c *Clock) run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	defer close(c.done)

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := uint64(0); ; seq++ {
		if ctx.Err() != nil {
			return
		}

		elapsed := uint64(time.Since(start).Milliseconds())
		if err := c.emit(ctx, seq, elapsed); err != nil {
			if ctx.Err() == nil {
				logger.Error("Clock stopped", "seq", seq, "err", err)
			}
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Clock) emit(ctx context.Context, seq, elapsed uint64) error {
	g, err := c.track.CreateGroup(ctx, seq)
	if err != nil {
		return err
	}
	if err := g.WriteFrame(ctx, frame.MarshalClock(elapsed)); err != nil {
		_ = g.Close()
		return err
	}
	return g.Close()
}

// Stop cancels the clock and waits until it has emitted its last sample.
// The track is left open.
func (c *Clock) Stop() {
	c.once.Do(c.cancel)
	<-c.done
}

// Done is closed once the clock has stopped.
func (c *Clock) Done() <-chan struct{} {
	return c.done
}
