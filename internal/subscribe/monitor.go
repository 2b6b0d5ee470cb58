package subscribe

import (
	"context"
	"sync/atomic"
	"time"

	"airwave/pkg/frame"
	"airwave/pkg/moq"
)

// monitor follows the clock track after the initial seek and remembers the
// latest publisher position. It never feeds back into catch-up.
type monitor struct {
	remote atomic.Uint64
	seen   atomic.Bool
}

func newMonitor() *monitor {
	return &monitor{}
}

func (m *monitor) latest() (uint64, bool) {
	return m.remote.Load(), m.seen.Load()
}

func (m *monitor) run(ctx context.Context, clock moq.TrackConsumer, timeout time.Duration) {
	defer closeWithLog(clock)

	for {
		gctx, cancel := context.WithTimeout(ctx, timeout)
		group, err := clock.NextGroup(gctx)
		if err != nil || group == nil {
			cancel()
			return
		}
		f, err := group.NextFrame(gctx)
		if err != nil || f == nil {
			cancel()
			if err != nil {
				return
			}
			continue
		}
		buf, err := frame.Collect(gctx, f)
		cancel()
		if err != nil {
			return
		}
		if ms, err := frame.UnmarshalClock(buf); err == nil {
			m.remote.Store(ms)
			m.seen.Store(true)
		}
	}
}
