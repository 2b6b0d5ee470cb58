package airwave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airwave/internal/publish"
	"airwave/internal/subscribe"
	"airwave/pkg/codec"
	"airwave/pkg/moq"
	"airwave/pkg/source"
)

// SourceOpener opens a song file for decoding.
type SourceOpener func(path string) (source.Source, error)

// OpenMP3 is the default SourceOpener.
func OpenMP3(path string) (source.Source, error) {
	return source.OpenMP3(path)
}

// Publisher cycles through a playlist forever, publishing each song as a
// new track pair.
type Publisher struct {
	station  int
	playlist *Playlist
	pub      *publish.Publisher
	open     SourceOpener
	notify   func(interface{})
	loops    int
	backoff  time.Duration
}

// PublisherOptions configures a station publisher
type PublisherOptions struct {
	Interval         time.Duration
	StrictSampleRate bool
	Open             SourceOpener      // defaults to OpenMP3
	Notify           func(interface{}) // receives station events
	Loops            int               // playlist passes; 0 runs until ctx ends
	Backoff          time.Duration     // wait after a pass in which no song played
}

// NewPublisher creates a station publisher on session
func NewPublisher(station int, playlist *Playlist, session moq.Session, factory codec.Factory, opts PublisherOptions) *Publisher {
	if opts.Open == nil {
		opts.Open = OpenMP3
	}
	if opts.Notify == nil {
		opts.Notify = func(interface{}) {}
	}
	return &Publisher{
		station:  station,
		playlist: playlist,
		pub: publish.NewPublisher(session, factory, publish.Options{
			Interval:         opts.Interval,
			StrictSampleRate: opts.StrictSampleRate,
			Logger:           slog.Default().With("component", "publisher", "station", station),
		}),
		open:    opts.Open,
		notify:  opts.Notify,
		loops:   opts.Loops,
		backoff: opts.Backoff,
	}
}

// Run publishes until ctx ends or the configured loops are done. A song
// that fails is skipped; only transport failures stop the loop.
func (p *Publisher) Run(ctx context.Context) error {
	defer closeWithLog(p.pub)

	for loop := 0; p.loops == 0 || loop < p.loops; loop++ {
		published := 0
		for i, song := range p.playlist.Songs() {
			if err := ctx.Err(); err != nil {
				return nil
			}

			track := TrackName(p.station, loop, i)
			err := p.publishSong(ctx, track, song)
			switch {
			case err == nil:
				published++
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, moq.ErrClosed):
				return err
			default:
				slog.Error("Skipping song", "station", p.station, "track", track, "song", song, "err", err)
				p.notify(SongSkipped{Track: track, Song: song, Err: err})
			}
		}
		slog.Info("Playlist loop complete", "station", p.station, "loop", loop, "published", published)

		if published == 0 {
			slog.Warn("No song could be published", "station", p.station, "retryIn", p.backoff)
			if !sleep(ctx, p.backoff) {
				return nil
			}
		}
	}
	return nil
}

func (p *Publisher) publishSong(ctx context.Context, track, song string) error {
	src, err := p.open(p.playlist.Path(song))
	if err != nil {
		return fmt.Errorf("could not open song %s: %w", song, err)
	}
	if c, ok := src.(io.Closer); ok {
		defer closeWithLog(c)
	}

	p.notify(SongStarted{Track: track, Song: song})
	stats, err := p.pub.PublishSong(ctx, track, ClockTrackName(track), src)
	if err != nil {
		return err
	}
	p.notify(SongFinished{Track: track, Stats: stats})
	return nil
}

// Subscriber follows a station's track sequence, catching up on each track
// and relaying it to a sink.
type Subscriber struct {
	station    int
	length     func() int
	session    moq.Session
	factory    codec.Factory
	sink       io.Writer
	retryDelay time.Duration
	trackGap   time.Duration
	sync       subscribe.Options
	notify     func(interface{})
	tracks     int
}

// SubscriberOptions configures a station subscriber
type SubscriberOptions struct {
	PlaylistLength int
	Playlist       *Playlist // when set, its length is reread at every loop start
	GroupTimeout   time.Duration
	RetryDelay     time.Duration
	TrackGap       time.Duration
	Notify         func(interface{})
	Tracks         int // tracks to follow; 0 runs until ctx ends
}

// NewSubscriber creates a station subscriber writing decoded PCM to sink
func NewSubscriber(station int, session moq.Session, factory codec.Factory, sink io.Writer, opts SubscriberOptions) *Subscriber {
	if opts.Notify == nil {
		opts.Notify = func(interface{}) {}
	}
	length := func() int { return opts.PlaylistLength }
	if opts.Playlist != nil {
		length = opts.Playlist.Len
	}
	return &Subscriber{
		station:    station,
		length:     length,
		session:    session,
		factory:    factory,
		sink:       sink,
		retryDelay: opts.RetryDelay,
		trackGap:   opts.TrackGap,
		sync: subscribe.Options{
			GroupTimeout: opts.GroupTimeout,
			DriftEvery:   250,
			Logger:       slog.Default().With("component", "subscriber", "station", station),
		},
		notify: opts.Notify,
		tracks: opts.Tracks,
	}
}

// Run follows tracks until ctx ends. Failed cycles are retried after
// RetryDelay, moving on to the next track name.
func (s *Subscriber) Run(ctx context.Context) error {
	loop, index := 0, 0
	length := s.loopLength()
	for n := 0; s.tracks == 0 || n < s.tracks; n++ {
		if ctx.Err() != nil {
			return nil
		}

		track := TrackName(s.station, loop, index)
		err := s.follow(ctx, track)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, moq.ErrClosed) {
			return err
		}
		if err != nil && !sleep(ctx, s.retryDelay) {
			return nil
		}

		index++
		if index >= length {
			index = 0
			loop++
			length = s.loopLength()
		}

		if !sleep(ctx, s.trackGap) {
			return nil
		}
	}
	return nil
}

// loopLength is the number of tracks in one playlist pass, at least 1.
func (s *Subscriber) loopLength() int {
	if n := s.length(); n > 0 {
		return n
	}
	return 1
}

func (s *Subscriber) follow(ctx context.Context, track string) error {
	logger := s.sync.Logger.With("track", track)

	dec, err := s.factory.NewDecoder()
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	logger.Info("Subscribing to track")
	s.notify(SongStarted{Track: track})

	res, err := subscribe.New(s.session, dec, s.sink, s.sync).Run(ctx, track, ClockTrackName(track))
	s.notify(TrackRelayed{Track: track, Result: res, Err: err})

	switch {
	case err == nil:
		logger.Info("Finished playing track", "delivered", res.Delivered)
	case ctx.Err() != nil:
	case errors.Is(err, subscribe.ErrNoContent):
		logger.Warn("No content available for track, retrying", "targetMs", res.TargetMs,
			"droppedMs", res.DroppedMs, "retryIn", s.retryDelay)
	case errors.Is(err, subscribe.ErrTrackUnavailable):
		logger.Warn("Track unavailable, retrying", "err", err, "retryIn", s.retryDelay)
	default:
		logger.Error("Error playing track, retrying", "err", err, "retryIn", s.retryDelay)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Error closing resource", "err", err)
	}
}
