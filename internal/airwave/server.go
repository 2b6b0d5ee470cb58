package airwave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airwave/internal/relay"
	"airwave/internal/subscribe"
	"airwave/pkg/codec"
	"airwave/pkg/moq"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Role selects what a process runs
type Role string

const (
	RolePublish   Role = "publish"   // publish the station playlist
	RoleSubscribe Role = "subscribe" // catch up and relay to websocket listeners
	RoleListen    Role = "listen"    // catch up and write PCM to a single sink
	RoleRun       Role = "run"       // publish and relay in one process
)

// statusInterval is how often the event loop logs station status
const statusInterval = 30 * time.Second

// Server wires the transport, station loops and relay for one station and
// routes their events through a single event loop.
type Server struct {
	config   *Config
	codec    codec.Factory
	registry *prometheus.Registry
	metrics  *relay.Metrics
	channel  chan interface{}
	hub      *relay.Hub
	open     SourceOpener
	session  moq.Session
}

// NewServer creates a server from config
func NewServer(config *Config) (*Server, error) {
	factory, err := codec.Lookup(config.Station.Codec)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		config:   config,
		codec:    factory,
		registry: registry,
		metrics:  relay.NewMetrics(registry),
		channel:  make(chan interface{}, 100),
		open:     OpenMP3,
	}, nil
}

// Run runs role until ctx ends or a component fails. out is the sink for
// RoleListen.
func (s *Server) Run(ctx context.Context, role Role, out io.Writer) error {
	session, err := s.openSession(ctx, role)
	if err != nil {
		return err
	}
	s.session = session

	slog.Info("Start Server", "role", role, "station", s.config.Station.Index,
		"transport", s.config.Transport.Kind, "codec", s.codec.Name())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if role == RoleSubscribe || role == RoleRun {
		s.hub = relay.NewHub(s.config.Station.Index, relay.HubConfig{
			BufferTargetMs: s.config.Relay.BufferTargetMs,
			SyncEvery:      s.config.Relay.SyncEvery,
			ClientBuffer:   s.config.Relay.ClientBuffer,
			PingInterval:   s.config.Relay.HeartbeatInterval,
			ClientTimeout:  s.config.Relay.ClientTimeout,
		}, s.metrics)
	}

	g.Go(func() error {
		s.eventLoop(gctx)
		return nil
	})

	switch role {
	case RolePublish:
		if _, err := s.startPublisher(gctx, g); err != nil {
			return errors.Join(err, s.shutdown(cancel, g))
		}
	case RoleSubscribe:
		length, err := s.config.SubscriberPlaylistLength()
		if err != nil {
			return errors.Join(err, s.shutdown(cancel, g))
		}
		s.startRelay(gctx, g)
		s.startSubscriber(gctx, g, s.hub, SubscriberOptions{PlaylistLength: length})
	case RoleListen:
		if out == nil {
			return errors.Join(fmt.Errorf("listen role needs an output"), s.shutdown(cancel, g))
		}
		length, err := s.config.SubscriberPlaylistLength()
		if err != nil {
			return errors.Join(err, s.shutdown(cancel, g))
		}
		s.startSubscriber(gctx, g, out, SubscriberOptions{PlaylistLength: length})
	case RoleRun:
		playlist, err := s.startPublisher(gctx, g)
		if err != nil {
			return errors.Join(err, s.shutdown(cancel, g))
		}
		s.startRelay(gctx, g)
		// Follow the publisher's own playlist, including directory rescans.
		s.startSubscriber(gctx, g, s.hub, SubscriberOptions{Playlist: playlist})
	default:
		return errors.Join(fmt.Errorf("unknown role %q", role), s.shutdown(cancel, g))
	}

	err = g.Wait()
	closeWithLog(session)
	slog.Info("Server stopped", "role", role)
	return err
}

// shutdown stops components already started after a setup failure.
func (s *Server) shutdown(cancel context.CancelFunc, g *errgroup.Group) error {
	cancel()
	closeWithLog(s.session)
	return g.Wait()
}

func (s *Server) openSession(ctx context.Context, role Role) (moq.Session, error) {
	kind := s.config.Transport.Kind
	if role == RoleRun {
		// Publisher and relay share one process.
		kind = TransportMemory
	}

	switch kind {
	case TransportRedis:
		cfg := moq.RedisConfig{
			URL:            s.config.Transport.RedisURL,
			Prefix:         s.config.Transport.Prefix,
			ConnectTimeout: s.config.Transport.ConnectTimeout,
			RetryAttempts:  s.config.Transport.RetryAttempts,
			RetryInterval:  s.config.Transport.RetryInterval,
			Retention:      s.config.Transport.Retention,
		}
		client, err := moq.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect transport: %w", err)
		}
		return moq.NewRedis(client, cfg), nil
	default:
		if role != RoleRun {
			slog.Warn("In-memory transport only reaches this process", "role", role)
		}
		return moq.NewMemory(moq.MemoryOptions{}), nil
	}
}

func (s *Server) startPublisher(ctx context.Context, g *errgroup.Group) (*Playlist, error) {
	playlist, err := NewPlaylist(s.config.Station)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		if err := playlist.Watch(ctx); err != nil {
			slog.Warn("Playlist watch disabled", "err", err)
		}
		return nil
	})

	pub := NewPublisher(s.config.Station.Index, playlist, s.session, s.codec, PublisherOptions{
		Interval:         s.config.Pacing.Interval,
		StrictSampleRate: s.config.Station.StrictSampleRate,
		Open:             s.open,
		Notify:           s.notify,
		Backoff:          s.config.Subscriber.RetryDelay,
	})
	g.Go(func() error {
		return pub.Run(ctx)
	})
	return playlist, nil
}

func (s *Server) startSubscriber(ctx context.Context, g *errgroup.Group, sink io.Writer, opts SubscriberOptions) {
	opts.GroupTimeout = s.config.Subscriber.GroupTimeout
	opts.RetryDelay = s.config.Subscriber.RetryDelay
	opts.TrackGap = s.config.Subscriber.TrackGap
	opts.Notify = s.notify

	sub := NewSubscriber(s.config.Station.Index, s.session, s.codec, sink, opts)
	g.Go(func() error {
		return sub.Run(ctx)
	})
}

func (s *Server) startRelay(ctx context.Context, g *errgroup.Group) {
	srv := relay.NewServer(s.hub, relay.ServerConfig{
		Port:      s.config.RelayPort(),
		IndexPath: s.config.Relay.IndexPath,
	}, s.registry)

	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
}

// notify hands a station event to the event loop without blocking.
func (s *Server) notify(event interface{}) {
	select {
	case s.channel <- event:
	default:
		slog.Warn("Event channel full, dropping event", "eventType", fmt.Sprintf("%T", event))
	}
}

func (s *Server) eventLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var hubEvents <-chan interface{}
	if s.hub != nil {
		hubEvents = s.hub.Events()
	}

	for {
		select {
		case data := <-s.channel:
			s.channelHandler(data)
		case data := <-hubEvents:
			s.channelHandler(data)
		case <-ticker.C:
			if s.hub != nil {
				slog.Info("Station status", "station", s.config.Station.Index,
					"clients", s.hub.Registry().Count(), "nowPlaying", s.hub.Status())
			}
		case <-ctx.Done():
			slog.Info("Event loop stopping...")
			return
		}
	}
}

func (s *Server) channelHandler(data interface{}) {
	station := s.config.Station.Index

	switch e := data.(type) {
	case SongStarted:
		if s.hub != nil {
			s.hub.SetStatus(e.Track)
		}
		slog.Debug("Song started", "track", e.Track, "song", e.Song)
	case SongFinished:
		slog.Debug("Song finished", "track", e.Track, "frames", e.Stats.Frames)
	case SongSkipped:
		slog.Debug("Song skipped", "track", e.Track, "song", e.Song, "err", e.Err)
	case TrackRelayed:
		if e.Result.State != subscribe.StateSeeking {
			s.metrics.ObserveCatchUp(station, e.Result.DroppedMs)
		}
		slog.Debug("Track cycle done", "track", e.Track, "state", e.Result.State, "err", e.Err)
	case relay.ClientJoined:
		slog.Info("Listener joined", "station", e.Station, "clientId", e.ClientID, "remote", e.Remote)
	case relay.ClientLeft:
		slog.Info("Listener left", "station", e.Station, "clientId", e.ClientID, "reason", e.Reason)
	case relay.BufferReported:
		slog.Debug("Listener buffer", "station", e.Station, "clientId", e.ClientID, "bufferedMs", e.BufferedMs)
	default:
		slog.Warn("Unknown event type", "eventType", fmt.Sprintf("%T", e))
	}
}
