package airwave

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Transport  TransportConfig  `yaml:"transport"`
	Station    StationConfig    `yaml:"station"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Relay      RelayConfig      `yaml:"relay"`
}

type LoggingConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL"`
	NoColor bool   `yaml:"no_color" env:"LOG_NO_COLOR"`
}

type TransportConfig struct {
	Kind           string        `yaml:"kind" env:"TRANSPORT"`
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	Prefix         string        `yaml:"prefix" env:"REDIS_PREFIX"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"REDIS_CONNECT_TIMEOUT"`
	RetryAttempts  int           `yaml:"retry_attempts" env:"REDIS_RETRY_ATTEMPTS"`
	RetryInterval  time.Duration `yaml:"retry_interval" env:"REDIS_RETRY_INTERVAL"`
	Retention      time.Duration `yaml:"retention" env:"REDIS_RETENTION"`
}

type StationConfig struct {
	Index            int      `yaml:"index" env:"STATION"`
	SongsDir         string   `yaml:"songs_dir" env:"SONGS_DIR"`
	Playlist         []string `yaml:"playlist" env:"PLAYLIST" envSeparator:","`
	PlaylistLength   int      `yaml:"playlist_length" env:"PLAYLIST_LENGTH"`
	StrictSampleRate bool     `yaml:"strict_sample_rate" env:"STRICT_SAMPLE_RATE"`
	Codec            string   `yaml:"codec" env:"CODEC"`
}

type PacingConfig struct {
	Interval time.Duration `yaml:"interval" env:"PACING_INTERVAL"`
}

type SubscriberConfig struct {
	GroupTimeout time.Duration `yaml:"group_timeout" env:"GROUP_TIMEOUT"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	TrackGap     time.Duration `yaml:"track_gap" env:"TRACK_GAP"`
}

type RelayConfig struct {
	PortBase          int           `yaml:"port_base" env:"RELAY_PORT_BASE"`
	BufferTargetMs    uint32        `yaml:"buffer_target_ms" env:"RELAY_BUFFER_TARGET_MS"`
	SyncEvery         int           `yaml:"sync_every" env:"RELAY_SYNC_EVERY"`
	ClientBuffer      int           `yaml:"client_buffer" env:"RELAY_CLIENT_BUFFER"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"RELAY_HEARTBEAT_INTERVAL"`
	ClientTimeout     time.Duration `yaml:"client_timeout" env:"RELAY_CLIENT_TIMEOUT"`
	IndexPath         string        `yaml:"index_path" env:"RELAY_INDEX_PATH"`
}

// DefaultConfigPath is used when no path is given
var DefaultConfigPath = filepath.Join("configs", "default.yaml")

// EnvPrefix prefixes every environment override
const EnvPrefix = "AIRWAVE_"

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Transport: TransportConfig{
			Kind:           TransportMemory,
			RedisURL:       "redis://localhost:6379/0",
			Prefix:         "airwave",
			ConnectTimeout: 10 * time.Second,
			RetryAttempts:  5,
			RetryInterval:  time.Second,
			Retention:      10 * time.Minute,
		},
		Station: StationConfig{
			Index:            1,
			SongsDir:         "songs",
			StrictSampleRate: true,
			Codec:            "opus",
		},
		Pacing: PacingConfig{Interval: 20 * time.Millisecond},
		Subscriber: SubscriberConfig{
			GroupTimeout: 5 * time.Second,
			RetryDelay:   5 * time.Second,
			TrackGap:     2 * time.Second,
		},
		Relay: RelayConfig{
			PortBase:          3030,
			BufferTargetMs:    1000,
			SyncEvery:         60,
			ClientBuffer:      100,
			HeartbeatInterval: 30 * time.Second,
			ClientTimeout:     60 * time.Second,
			IndexPath:         "index.html",
		},
	}
}

// LoadConfig loads the yaml file at path over the defaults, then applies
// AIRWAVE_* environment overrides (a .env file is loaded first when present).
// A missing file is an error only when path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Debug("Config file not found, using defaults", "path", path)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	switch c.Transport.Kind {
	case TransportMemory:
	case TransportRedis:
		if c.Transport.RedisURL == "" {
			return fmt.Errorf("transport.redis_url is required for the redis transport")
		}
		if c.Transport.RetryAttempts <= 0 {
			return fmt.Errorf("invalid retry_attempts: %d (must be positive)", c.Transport.RetryAttempts)
		}
	default:
		return fmt.Errorf("invalid transport kind: %q (must be %q or %q)", c.Transport.Kind, TransportMemory, TransportRedis)
	}

	if c.Station.Index <= 0 {
		return fmt.Errorf("invalid station index: %d (must be positive)", c.Station.Index)
	}
	if c.Station.PlaylistLength < 0 {
		return fmt.Errorf("invalid playlist_length: %d (must not be negative)", c.Station.PlaylistLength)
	}
	if c.Station.Codec == "" {
		return fmt.Errorf("station.codec is required")
	}

	if c.Pacing.Interval <= 0 {
		return fmt.Errorf("invalid pacing interval: %s", c.Pacing.Interval)
	}

	if c.Subscriber.GroupTimeout <= 0 {
		return fmt.Errorf("invalid group_timeout: %s", c.Subscriber.GroupTimeout)
	}
	if c.Subscriber.RetryDelay < 0 || c.Subscriber.TrackGap < 0 {
		return fmt.Errorf("retry_delay and track_gap must be non-negative")
	}

	if port := c.RelayPort(); port <= 0 || port > 65535 {
		return fmt.Errorf("invalid relay port: %d (must be between 1-65535)", port)
	}
	if c.Relay.SyncEvery <= 0 {
		return fmt.Errorf("invalid sync_every: %d (must be positive)", c.Relay.SyncEvery)
	}
	if c.Relay.ClientBuffer <= 0 {
		return fmt.Errorf("invalid client_buffer: %d (must be positive)", c.Relay.ClientBuffer)
	}
	if c.Relay.HeartbeatInterval <= 0 || c.Relay.ClientTimeout <= c.Relay.HeartbeatInterval {
		return fmt.Errorf("client_timeout (%s) must exceed a positive heartbeat_interval (%s)",
			c.Relay.ClientTimeout, c.Relay.HeartbeatInterval)
	}

	return nil
}

// SubscriberPlaylistLength is the number of tracks per playlist pass a
// separate subscriber follows: the configured playlist, the built-in
// playlist, or an explicit playlist_length. A playlist scanned from songs_dir
// is only known to the publisher, so it needs playlist_length.
func (c *Config) SubscriberPlaylistLength() (int, error) {
	switch {
	case len(c.Station.Playlist) > 0:
		return len(c.Station.Playlist), nil
	case len(stationPlaylists[c.Station.Index]) > 0:
		return len(stationPlaylists[c.Station.Index]), nil
	case c.Station.PlaylistLength > 0:
		return c.Station.PlaylistLength, nil
	default:
		return 0, fmt.Errorf("station %d has no fixed playlist: set station.playlist_length to the number of songs in %s",
			c.Station.Index, c.Station.SongsDir)
	}
}

// RelayPort is the listener port for this station
func (c *Config) RelayPort() int {
	return c.Relay.PortBase + c.Station.Index - 1
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
