// Package publish turns decoded PCM into paced, length-prefixed frames on a
// transport group and runs the companion clock track.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airwave/pkg/codec"
	"airwave/pkg/frame"
	"airwave/pkg/moq"
	"airwave/pkg/source"
)

const DefaultInterval = 20 * time.Millisecond

var (
	ErrUnsupportedChannels   = errors.New("unsupported channel count")
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// Options controls pacing and ingestion checks.
type Options struct {
	Interval         time.Duration
	StrictSampleRate bool
	Logger           *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats summarizes one encoded group.
type Stats struct {
	Frames  int
	Bytes   int64
	Skipped int
}

// Validate checks that src can be encoded. A sample-rate mismatch is an error
// when strict is set; otherwise it is logged and encoding proceeds without
// resampling.
func Validate(src source.Source, strict bool, logger *slog.Logger) error {
	mismatch, err := check(src, strict)
	if err != nil {
		return err
	}
	if mismatch {
		logger.Warn("Sample rate mismatch, playing without resampling (known defect: pitch and speed will be wrong)",
			"sampleRate", src.SampleRate(), "required", codec.SampleRate)
	}
	return nil
}

// check reports whether src's sample rate differs from the codec's.
func check(src source.Source, strict bool) (bool, error) {
	channels := src.Channels()
	if channels != 1 && channels != 2 {
		return false, fmt.Errorf("%w: %d", ErrUnsupportedChannels, channels)
	}

	rate := src.SampleRate()
	if rate == codec.SampleRate {
		return false, nil
	}
	if strict {
		return true, fmt.Errorf("%w: %d Hz (need %d Hz)", ErrUnsupportedSampleRate, rate, codec.SampleRate)
	}
	return true, nil
}

// Encode reads src to the end, emitting one coded frame per interval into
// group. The group is closed on return, which is the end-of-track signal.
// The last partial frame is padded with silence. Encode enforces the same
// rules as Validate but leaves reporting a lenient mismatch to Validate.
func Encode(ctx context.Context, src source.Source, factory codec.Factory, group moq.GroupProducer, opts Options) (Stats, error) {
	opts.setDefaults()

	stats, err := encode(ctx, src, factory, group, opts)
	if closeErr := group.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close group: %w", closeErr))
	}
	return stats, err
}

func encode(ctx context.Context, src source.Source, factory codec.Factory, group moq.GroupProducer, opts Options) (Stats, error) {
	var stats Stats

	if _, err := check(src, opts.StrictSampleRate); err != nil {
		return stats, err
	}

	enc, err := factory.NewEncoder(src.Channels())
	if err != nil {
		return stats, fmt.Errorf("failed to create encoder: %w", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	pcm := make([]int16, codec.FrameSamples*src.Channels())
	for {
		n, readErr := fill(src, pcm)
		if n == 0 {
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return stats, fmt.Errorf("failed to read source: %w", readErr)
			}
			break
		}
		clear(pcm[n:])

		data, err := encodeFrame(enc, pcm)
		if err != nil {
			opts.Logger.Warn("Skipping frame", "frame", stats.Frames, "err", err)
			stats.Skipped++
		} else {
			if stats.Frames > 0 {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return stats, ctx.Err()
				}
			}
			if err := group.WriteFrame(ctx, data); err != nil {
				return stats, fmt.Errorf("failed to write frame: %w", err)
			}
			stats.Frames++
			stats.Bytes += int64(len(data))
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return stats, fmt.Errorf("failed to read source: %w", readErr)
			}
			break
		}
	}

	return stats, nil
}

func encodeFrame(enc codec.Encoder, pcm []int16) ([]byte, error) {
	packet, err := enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return frame.Marshal(packet)
}

// fill reads until pcm is full or the source ends.
func fill(src source.Source, pcm []int16) (int, error) {
	total := 0
	for total < len(pcm) {
		n, err := src.Read(pcm[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}
