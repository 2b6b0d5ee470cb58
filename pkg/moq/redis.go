package moq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection url")
	ErrRedisNotReady         = errors.New("redis did not become ready")
)

// Stream entry fields
const (
	fieldGroup = "group"
	fieldData  = "data"
	fieldEnd   = "end"
)

// RedisConfig configures the Redis Streams broker.
type RedisConfig struct {
	URL            string
	Prefix         string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
	Retention      time.Duration // expiry applied to closed groups and tracks
	BlockTimeout   time.Duration // XREAD BLOCK slice; ctx is checked between slices
	MaxGroups      int           // groups kept per track; older group streams are deleted
}

func (c *RedisConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "airwave"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	if c.Retention <= 0 {
		c.Retention = 10 * time.Minute
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 500 * time.Millisecond
	}
	if c.MaxGroups <= 0 {
		c.MaxGroups = DefaultMaxGroups
	}
}

// Connect dials Redis, retrying RetryAttempts times RetryInterval apart.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg.setDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		slog.Warn("Redis not ready", "attempt", attempt+1, "err", err)
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// Redis stores each track as a group-index stream plus one stream per group,
// so any number of processes can publish and subscribe through one server.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis creates a broker over an established client.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	cfg.setDefaults()
	return &Redis{client: client, cfg: cfg}
}

func (r *Redis) groupsKey(track string) string {
	return fmt.Sprintf("%s:%s:groups", r.cfg.Prefix, track)
}

func (r *Redis) groupKey(track string, id uint64) string {
	return fmt.Sprintf("%s:%s:g:%d", r.cfg.Prefix, track, id)
}

// Publish resets any previous content stored under name.
func (r *Redis) Publish(ctx context.Context, name string) (TrackProducer, error) {
	if err := r.client.Del(ctx, r.groupsKey(name)).Err(); err != nil {
		return nil, fmt.Errorf("failed to reset track %s: %w", name, err)
	}
	return &redisTrack{broker: r, name: name}, nil
}

// Subscribe waits for name to be announced and returns a consumer positioned
// at its latest group.
func (r *Redis) Subscribe(ctx context.Context, name string) (TrackConsumer, error) {
	key := r.groupsKey(name)
	c := &redisTrackConsumer{broker: r, key: key, name: name, lastID: "0"}

	entries, err := r.client.XRevRangeN(ctx, key, "+", "-", 2).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read track %s: %w", name, err)
	}
	for _, e := range entries {
		if _, ok := e.Values[fieldGroup]; ok {
			c.pending = &e
			c.lastID = e.ID
			break
		}
	}
	if c.pending == nil && len(entries) > 0 {
		// Closed without any group.
		c.lastID = entries[0].ID
		c.ended = true
		return c, nil
	}
	if c.pending != nil {
		return c, nil
	}

	// Not announced yet: wait for the first entry.
	msg, err := r.readNext(ctx, key, "0")
	if err != nil {
		return nil, err
	}
	c.pending = msg
	c.lastID = msg.ID
	return c, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// readNext blocks until the stream at key has an entry after id.
func (r *Redis) readNext(ctx context.Context, key, id string) (*redis.XMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, id},
			Count:   1,
			Block:   r.cfg.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("xread %s: %w", key, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}
		msg := res[0].Messages[0]
		return &msg, nil
	}
}

type redisTrack struct {
	broker *Redis
	name   string
	recent []string // group keys, oldest first
}

// CreateGroup resets and announces group id in one round trip. Once more
// than MaxGroups groups exist, the oldest group stream is deleted and the
// index stream is trimmed.
func (t *redisTrack) CreateGroup(ctx context.Context, id uint64) (GroupProducer, error) {
	b := t.broker
	key := b.groupKey(t.name, id)

	var evicted string
	t.recent = append(t.recent, key)
	if len(t.recent) > b.cfg.MaxGroups {
		evicted = t.recent[0]
		t.recent = t.recent[1:]
	}

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if evicted != "" {
			pipe.Del(ctx, evicted)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.groupsKey(t.name),
			MaxLen: int64(b.cfg.MaxGroups),
			Approx: true,
			Values: map[string]interface{}{fieldGroup: strconv.FormatUint(id, 10)},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to announce group %d: %w", id, err)
	}
	return &redisGroup{broker: b, key: key}, nil
}

func (t *redisTrack) Close() error {
	b := t.broker
	ctx := context.Background()
	key := b.groupsKey(t.name)
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{fieldEnd: "1"},
	}).Err(); err != nil {
		return fmt.Errorf("failed to close track %s: %w", t.name, err)
	}
	return b.client.Expire(ctx, key, b.cfg.Retention).Err()
}

type redisGroup struct {
	broker *Redis
	key    string
	closed bool
}

func (g *redisGroup) WriteFrame(ctx context.Context, data []byte) error {
	if g.closed {
		return ErrGroupClosed
	}
	return g.broker.client.XAdd(ctx, &redis.XAddArgs{
		Stream: g.key,
		Values: map[string]interface{}{fieldData: data},
	}).Err()
}

func (g *redisGroup) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true

	ctx := context.Background()
	_, err := g.broker.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: g.key,
			Values: map[string]interface{}{fieldEnd: "1"},
		})
		pipe.Expire(ctx, g.key, g.broker.cfg.Retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to close group: %w", err)
	}
	return nil
}

type redisTrackConsumer struct {
	broker  *Redis
	key     string
	name    string
	lastID  string
	pending *redis.XMessage
	ended   bool
}

func (c *redisTrackConsumer) NextGroup(ctx context.Context) (GroupConsumer, error) {
	for {
		if c.ended {
			return nil, nil
		}

		msg := c.pending
		c.pending = nil
		if msg == nil {
			var err error
			msg, err = c.broker.readNext(ctx, c.key, c.lastID)
			if err != nil {
				return nil, err
			}
			c.lastID = msg.ID
		}

		if _, ok := msg.Values[fieldEnd]; ok {
			c.ended = true
			return nil, nil
		}

		raw, ok := msg.Values[fieldGroup].(string)
		if !ok {
			slog.Warn("Skipping malformed group entry", "track", c.name, "id", msg.ID)
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			slog.Warn("Skipping malformed group id", "track", c.name, "value", raw)
			continue
		}
		return &redisGroupConsumer{
			broker: c.broker,
			key:    c.broker.groupKey(c.name, id),
			id:     id,
			lastID: "0",
		}, nil
	}
}

func (c *redisTrackConsumer) Close() error {
	return nil
}

type redisGroupConsumer struct {
	broker *Redis
	key    string
	id     uint64
	lastID string
	ended  bool
}

func (c *redisGroupConsumer) ID() uint64 {
	return c.id
}

func (c *redisGroupConsumer) NextFrame(ctx context.Context) (FrameConsumer, error) {
	for {
		if c.ended {
			return nil, nil
		}

		msg, err := c.broker.readNext(ctx, c.key, c.lastID)
		if err != nil {
			return nil, err
		}
		c.lastID = msg.ID

		if _, ok := msg.Values[fieldEnd]; ok {
			c.ended = true
			return nil, nil
		}
		data, ok := msg.Values[fieldData].(string)
		if !ok {
			slog.Warn("Skipping malformed frame entry", "key", c.key, "id", msg.ID)
			continue
		}
		return newChunk([]byte(data)), nil
	}
}
