// Package subscribe joins a live station: it learns the publisher's position
// from the clock track, silently fast-forwards the audio track to that
// position and then relays decoded PCM to a sink.
package subscribe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airwave/pkg/codec"
	"airwave/pkg/frame"
	"airwave/pkg/moq"
)

const DefaultGroupTimeout = 5 * time.Second

var (
	ErrNoContent        = errors.New("no content: track ended before catch-up completed")
	ErrTrackUnavailable = errors.New("track unavailable")
)

// State is the synchronizer's position in its state machine.
type State int

const (
	StateSeeking State = iota
	StateFastForward
	StateLive
	StateEnded
	StateNoContent
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateFastForward:
		return "fast-forward"
	case StateLive:
		return "live"
	case StateEnded:
		return "ended"
	case StateNoContent:
		return "no-content"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a synchronizer.
type Options struct {
	GroupTimeout time.Duration // wait for the next group or frame before giving up
	DriftEvery   int           // log drift every N delivered frames; 0 disables
	Logger       *slog.Logger
}

func (o *Options) setDefaults() {
	if o.GroupTimeout <= 0 {
		o.GroupTimeout = DefaultGroupTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result describes one subscription cycle.
type Result struct {
	State     State
	TargetMs  uint64
	DroppedMs uint64
	Dropped   int // frames decoded and discarded during fast-forward
	Delivered int // frames relayed live
	Skipped   int // malformed frames or decode failures
}

// Synchronizer runs one subscription cycle over an audio track and its
// clock track.
type Synchronizer struct {
	session moq.Session
	decoder codec.Decoder
	sink    io.Writer
	opts    Options
}

// New creates a synchronizer writing interleaved little-endian stereo PCM
// to sink.
func New(session moq.Session, decoder codec.Decoder, sink io.Writer, opts Options) *Synchronizer {
	opts.setDefaults()
	return &Synchronizer{
		session: session,
		decoder: decoder,
		sink:    sink,
		opts:    opts,
	}
}

// Run reads the clock offset, fast-forwards audioTrack to it and relays the
// rest of the track. It returns nil when the track ends normally,
// ErrNoContent when it ends before the offset is reached and
// ErrTrackUnavailable when the transport goes quiet.
func (s *Synchronizer) Run(ctx context.Context, audioTrack, clockTrack string) (Result, error) {
	logger := s.opts.Logger.With("track", audioTrack)
	res := Result{State: StateSeeking}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	target, clock := s.seek(ctx, clockTrack, logger)
	res.TargetMs = target

	monitor := newMonitor()
	if clock != nil {
		go monitor.run(ctx, clock, s.opts.GroupTimeout)
	}

	var consumer moq.TrackConsumer
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		consumer, err = s.session.Subscribe(ctx, audioTrack)
		return err
	})
	if err != nil {
		return s.fail(res, err)
	}
	defer closeWithLog(consumer)

	res.State = StateFastForward
	logger.Info("Catching up", "targetMs", target)

	reader := &frameReader{sync: s, consumer: consumer, logger: logger}
	for res.DroppedMs < target {
		pcm, samples, err := reader.next(ctx, &res)
		if err != nil {
			return s.fail(res, err)
		}
		if pcm == nil {
			res.State = StateNoContent
			logger.Warn("Track ended before catch-up completed", "targetMs", target, "droppedMs", res.DroppedMs)
			return res, ErrNoContent
		}
		res.Dropped++
		res.DroppedMs += codec.DurationMs(samples)
	}

	res.State = StateLive
	logger.Info("Caught up", "targetMs", target, "droppedMs", res.DroppedMs, "droppedFrames", res.Dropped)

	position := res.DroppedMs
	for {
		pcm, samples, err := reader.next(ctx, &res)
		if err != nil {
			return s.fail(res, err)
		}
		if pcm == nil {
			res.State = StateEnded
			logger.Info("Track ended", "delivered", res.Delivered, "skipped", res.Skipped)
			return res, nil
		}

		if _, err := s.sink.Write(pcmBytes(pcm)); err != nil {
			return res, fmt.Errorf("failed to write to sink: %w", err)
		}
		res.Delivered++
		position += codec.DurationMs(samples)

		if s.opts.DriftEvery > 0 && res.Delivered%s.opts.DriftEvery == 0 {
			if remote, ok := monitor.latest(); ok {
				logger.Debug("Clock drift", "publisherMs", remote, "localMs", position,
					"driftMs", int64(remote)-int64(position))
			}
		}
	}
}

// seek reads the first available clock sample. Any failure yields 0, which
// plays from the start of the current group.
func (s *Synchronizer) seek(ctx context.Context, clockTrack string, logger *slog.Logger) (uint64, moq.TrackConsumer) {
	var (
		target   uint64
		consumer moq.TrackConsumer
	)

	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		consumer, err = s.session.Subscribe(ctx, clockTrack)
		if err != nil {
			return err
		}
		group, err := consumer.NextGroup(ctx)
		if err != nil || group == nil {
			return err
		}
		f, err := group.NextFrame(ctx)
		if err != nil || f == nil {
			return err
		}
		buf, err := frame.Collect(ctx, f)
		if err != nil {
			return err
		}
		target, err = frame.UnmarshalClock(buf)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("No clock sample, playing from group start", "clockTrack", clockTrack, "err", err)
		}
		return 0, consumer
	}
	return target, consumer
}

// withTimeout runs fn under GroupTimeout and maps its expiry to
// ErrTrackUnavailable.
func (s *Synchronizer) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, s.opts.GroupTimeout)
	defer cancel()

	err := fn(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: nothing received for %s", ErrTrackUnavailable, s.opts.GroupTimeout)
	}
	return err
}

func (s *Synchronizer) fail(res Result, err error) (Result, error) {
	if errors.Is(err, ErrTrackUnavailable) {
		res.State = StateUnavailable
	}
	return res, err
}

// frameReader walks frames across group boundaries, skipping frames that
// fail to unframe or decode.
type frameReader struct {
	sync     *Synchronizer
	consumer moq.TrackConsumer
	group    moq.GroupConsumer
	logger   *slog.Logger
}

// next returns the next decoded frame, or nil at end of track.
func (r *frameReader) next(ctx context.Context, res *Result) ([]int16, int, error) {
	for {
		if r.group == nil {
			err := r.sync.withTimeout(ctx, func(ctx context.Context) error {
				var err error
				r.group, err = r.consumer.NextGroup(ctx)
				return err
			})
			if err != nil {
				return nil, 0, err
			}
			if r.group == nil {
				return nil, 0, nil
			}
		}

		var f moq.FrameConsumer
		err := r.sync.withTimeout(ctx, func(ctx context.Context) error {
			var err error
			f, err = r.group.NextFrame(ctx)
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		if f == nil {
			r.group = nil
			continue
		}

		payload, err := frame.ReadPayload(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			r.logger.Warn("Skipping malformed frame", "group", r.group.ID(), "err", err)
			res.Skipped++
			continue
		}

		pcm, samples, err := r.sync.decoder.Decode(payload)
		if err != nil {
			r.logger.Warn("Skipping frame that failed to decode", "group", r.group.ID(), "err", err)
			res.Skipped++
			continue
		}
		return pcm, samples, nil
	}
}

func pcmBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Error closing resource", "err", err)
	}
}
