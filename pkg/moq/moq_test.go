package moq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSession(t *testing.T) Session {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	return NewRedis(client, RedisConfig{Prefix: "test", BlockTimeout: 20 * time.Millisecond})
}

func sessions(t *testing.T) map[string]func(t *testing.T) Session {
	return map[string]func(t *testing.T) Session{
		"memory": func(t *testing.T) Session { return NewMemory(MemoryOptions{}) },
		"redis":  newRedisSession,
	}
}

func readGroup(t *testing.T, ctx context.Context, g GroupConsumer) []string {
	t.Helper()
	var out []string
	for {
		f, err := g.NextFrame(ctx)
		require.NoError(t, err)
		if f == nil {
			return out
		}
		data, err := f.Read(ctx)
		require.NoError(t, err)
		out = append(out, string(data))
		end, err := f.Read(ctx)
		require.NoError(t, err)
		assert.Nil(t, end)
	}
}

func TestSessionGroupFromStart(t *testing.T) {
	for name, newSession := range sessions(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s := newSession(t)
			defer s.Close()

			p, err := s.Publish(ctx, "song")
			require.NoError(t, err)
			g, err := p.CreateGroup(ctx, 0)
			require.NoError(t, err)
			require.NoError(t, g.WriteFrame(ctx, []byte("a")))
			require.NoError(t, g.WriteFrame(ctx, []byte("b")))

			c, err := s.Subscribe(ctx, "song")
			require.NoError(t, err)

			require.NoError(t, g.WriteFrame(ctx, []byte("c")))
			require.NoError(t, g.Close())
			require.NoError(t, p.Close())

			gc, err := c.NextGroup(ctx)
			require.NoError(t, err)
			require.NotNil(t, gc)
			assert.Equal(t, uint64(0), gc.ID())
			assert.Equal(t, []string{"a", "b", "c"}, readGroup(t, ctx, gc))

			next, err := c.NextGroup(ctx)
			require.NoError(t, err)
			assert.Nil(t, next)
		})
	}
}

func TestSessionLatestGroup(t *testing.T) {
	for name, newSession := range sessions(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s := newSession(t)
			defer s.Close()

			p, err := s.Publish(ctx, "clock")
			require.NoError(t, err)
			for id := uint64(0); id < 5; id++ {
				g, err := p.CreateGroup(ctx, id)
				require.NoError(t, err)
				require.NoError(t, g.WriteFrame(ctx, []byte{byte(id)}))
				require.NoError(t, g.Close())
			}

			c, err := s.Subscribe(ctx, "clock")
			require.NoError(t, err)

			gc, err := c.NextGroup(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), gc.ID())

			g, err := p.CreateGroup(ctx, 5)
			require.NoError(t, err)
			require.NoError(t, g.Close())

			gc, err = c.NextGroup(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(5), gc.ID())
		})
	}
}

func TestSessionSubscribeWaitsForAnnounce(t *testing.T) {
	for name, newSession := range sessions(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s := newSession(t)
			defer s.Close()

			done := make(chan TrackConsumer, 1)
			go func() {
				c, err := s.Subscribe(ctx, "late")
				assert.NoError(t, err)
				done <- c
			}()

			time.Sleep(30 * time.Millisecond)
			p, err := s.Publish(ctx, "late")
			require.NoError(t, err)
			g, err := p.CreateGroup(ctx, 0)
			require.NoError(t, err)
			require.NoError(t, g.WriteFrame(ctx, []byte("x")))
			require.NoError(t, g.Close())

			c := <-done
			require.NotNil(t, c)
			gc, err := c.NextGroup(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"x"}, readGroup(t, ctx, gc))
		})
	}
}

func TestSessionSubscribeTimeout(t *testing.T) {
	for name, newSession := range sessions(t) {
		t.Run(name, func(t *testing.T) {
			s := newSession(t)
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := s.Subscribe(ctx, "never")
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestMemoryTrimsGroups(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MemoryOptions{MaxGroups: 2})

	p, err := m.Publish(ctx, "t")
	require.NoError(t, err)
	c, err := m.Subscribe(ctx, "t")
	require.NoError(t, err)

	for id := uint64(0); id < 4; id++ {
		g, err := p.CreateGroup(ctx, id)
		require.NoError(t, err)
		require.NoError(t, g.Close())
	}

	gc, err := c.NextGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gc.ID())
}

func TestMemoryRetiresClosedTracks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MemoryOptions{RetainClosed: 1})

	for _, name := range []string{"a", "b", "c"} {
		p, err := m.Publish(ctx, name)
		require.NoError(t, err)
		require.NoError(t, p.Close())
	}
	assert.Equal(t, 1, m.TrackCount())
}

func TestMemoryPublishDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MemoryOptions{})

	p, err := m.Publish(ctx, "a")
	require.NoError(t, err)
	_, err = m.Publish(ctx, "a")
	assert.ErrorIs(t, err, ErrTrackExists)

	require.NoError(t, p.Close())
	_, err = m.Publish(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryCloseUnblocks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MemoryOptions{})

	_, err := m.Publish(ctx, "a")
	require.NoError(t, err)
	c, err := m.Subscribe(ctx, "a")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.NextGroup(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, <-errCh, ErrClosed)

	_, err = m.Publish(ctx, "b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnectBadURL(t *testing.T) {
	_, err := Connect(context.Background(), RedisConfig{URL: "://nope"})
	assert.ErrorIs(t, err, ErrFailedToParseRedisURL)
}

func TestConnectNotReady(t *testing.T) {
	_, err := Connect(context.Background(), RedisConfig{
		URL:            "redis://127.0.0.1:1",
		RetryAttempts:  2,
		RetryInterval:  time.Millisecond,
		ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, ErrRedisNotReady)
}

func TestRedisTrackClosedWithoutGroups(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, RedisConfig{BlockTimeout: 10 * time.Millisecond})
	defer s.Close()

	ctx := context.Background()
	p, err := s.Publish(ctx, "empty")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	c, err := s.Subscribe(ctx, "empty")
	require.NoError(t, err)
	g, err := c.NextGroup(ctx)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestRedisBoundsClockGroups(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, RedisConfig{Prefix: "test", MaxGroups: 4, BlockTimeout: 10 * time.Millisecond})

	p, err := s.Publish(ctx, "clock")
	require.NoError(t, err)
	for id := uint64(0); id < 20; id++ {
		g, err := p.CreateGroup(ctx, id)
		require.NoError(t, err)
		require.NoError(t, g.WriteFrame(ctx, []byte{byte(id)}))
		require.NoError(t, g.Close())
	}

	n, err := client.XLen(ctx, "test:clock:groups").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(8))

	assert.False(t, mr.Exists("test:clock:g:0"))
	assert.False(t, mr.Exists("test:clock:g:15"))
	assert.True(t, mr.Exists("test:clock:g:16"))
	assert.True(t, mr.Exists("test:clock:g:19"))

	// a late subscriber still starts at the latest group
	c, err := s.Subscribe(ctx, "clock")
	require.NoError(t, err)
	g, err := c.NextGroup(ctx)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, uint64(19), g.ID())
}
