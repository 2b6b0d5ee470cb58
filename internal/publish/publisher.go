package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"airwave/pkg/codec"
	"airwave/pkg/moq"
	"airwave/pkg/source"
)

// Publisher publishes songs one at a time, each as an audio track with a
// single group plus a clock track. Starting a song stops the previous
// song's clock before the new one starts.
type Publisher struct {
	session moq.Session
	codec   codec.Factory
	opts    Options

	clock      *Clock
	clockTrack moq.TrackProducer
	mu         sync.Mutex
}

// NewPublisher creates a publisher on session.
func NewPublisher(session moq.Session, factory codec.Factory, opts Options) *Publisher {
	opts.setDefaults()
	return &Publisher{
		session: session,
		codec:   factory,
		opts:    opts,
	}
}

// PublishSong announces track and clockTrack and encodes src into group 0 of
// track in real time. Configuration errors are returned before anything is
// announced.
func (p *Publisher) PublishSong(ctx context.Context, track, clockTrack string, src source.Source) (Stats, error) {
	logger := p.opts.Logger.With("track", track)

	if err := Validate(src, p.opts.StrictSampleRate, logger); err != nil {
		return Stats{}, err
	}

	audio, err := p.session.Publish(ctx, track)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to publish %s: %w", track, err)
	}
	defer closeWithLog(audio)

	clock, err := p.session.Publish(ctx, clockTrack)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to publish %s: %w", clockTrack, err)
	}
	p.replaceClock(ctx, clock)

	group, err := audio.CreateGroup(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create group: %w", err)
	}

	logger.Info("Publishing song", "clockTrack", clockTrack,
		"sampleRate", src.SampleRate(), "channels", src.Channels())

	opts := p.opts
	opts.Logger = logger
	stats, err := Encode(ctx, src, p.codec, group, opts)
	if err != nil {
		return stats, err
	}

	logger.Info("Song finished", "frames", stats.Frames, "bytes", stats.Bytes, "skipped", stats.Skipped)
	return stats, nil
}

// replaceClock stops the running clock synchronously, retires its track and
// starts a fresh clock on track.
func (p *Publisher) replaceClock(ctx context.Context, track moq.TrackProducer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopClockLocked()

	// The clock outlives PublishSong and runs until the next song replaces it.
	p.clock = StartClock(context.WithoutCancel(ctx), track, p.opts.Interval, p.opts.Logger)
	p.clockTrack = track
}

func (p *Publisher) stopClockLocked() {
	if p.clock != nil {
		p.clock.Stop()
		p.clock = nil
	}
	if p.clockTrack != nil {
		closeWithLog(p.clockTrack)
		p.clockTrack = nil
	}
}

// Close stops the clock of the last song.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopClockLocked()
	return nil
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil && !errors.Is(err, moq.ErrClosed) {
		slog.Error("Error closing resource", "err", err)
	}
}
