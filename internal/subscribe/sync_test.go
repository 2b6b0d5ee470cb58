package subscribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"airwave/pkg/codec"
	"airwave/pkg/frame"
	"airwave/pkg/moq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawFrame is a framed 20 ms stereo packet whose samples all equal idx.
func rawFrame(t *testing.T, idx int) []byte {
	t.Helper()
	enc, err := codec.Raw{}.NewEncoder(2)
	require.NoError(t, err)

	pcm := make([]int16, codec.FrameSamples*2)
	for i := range pcm {
		pcm[i] = int16(idx)
	}
	packet, err := enc.Encode(pcm)
	require.NoError(t, err)
	data, err := frame.Marshal(packet)
	require.NoError(t, err)
	return data
}

func newDecoder(t *testing.T) codec.Decoder {
	dec, err := codec.Raw{}.NewDecoder()
	require.NoError(t, err)
	return dec
}

// firstSamples returns the first sample of every frame written to the sink.
func firstSamples(buf *bytes.Buffer) []int16 {
	frameBytes := codec.FrameSamples * 2 * 2
	data := buf.Bytes()
	var out []int16
	for off := 0; off+frameBytes <= len(data); off += frameBytes {
		out = append(out, int16(binary.LittleEndian.Uint16(data[off:])))
	}
	return out
}

func publishTrack(t *testing.T, ctx context.Context, m *moq.Memory, name string, frames [][]byte) {
	t.Helper()
	p, err := m.Publish(ctx, name)
	require.NoError(t, err)
	g, err := p.CreateGroup(ctx, 0)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, g.WriteFrame(ctx, f))
	}
	require.NoError(t, g.Close())
	require.NoError(t, p.Close())
}

func TestCatchUpFromClockOffset(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := moq.NewMemory(moq.MemoryOptions{})
	var frames [][]byte
	for i := 0; i < 40; i++ {
		frames = append(frames, rawFrame(t, i))
	}
	publishTrack(t, ctx, m, "station2-0-0", frames)
	publishTrack(t, ctx, m, "metadata-station2-0-0", [][]byte{frame.MarshalClock(500)})

	var sink bytes.Buffer
	s := New(m, newDecoder(t), &sink, Options{GroupTimeout: time.Second})
	res, err := s.Run(ctx, "station2-0-0", "metadata-station2-0-0")
	require.NoError(t, err)

	assert.Equal(t, StateEnded, res.State)
	assert.Equal(t, uint64(500), res.TargetMs)
	assert.Equal(t, uint64(500), res.DroppedMs)
	assert.Equal(t, 25, res.Dropped)
	assert.Equal(t, 15, res.Delivered)

	delivered := firstSamples(&sink)
	require.Len(t, delivered, 15)
	assert.Equal(t, int16(25), delivered[0])
}

func TestCatchUpNoContent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := moq.NewMemory(moq.MemoryOptions{})
	var frames [][]byte
	for i := 0; i < 10; i++ {
		frames = append(frames, rawFrame(t, i))
	}
	publishTrack(t, ctx, m, "a", frames)
	publishTrack(t, ctx, m, "metadata-a", [][]byte{frame.MarshalClock(60_000)})

	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: time.Second}).Run(ctx, "a", "metadata-a")
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, StateNoContent, res.State)
	assert.Equal(t, 10, res.Dropped)
	assert.Equal(t, uint64(200), res.DroppedMs)
	assert.Zero(t, sink.Len())
}

func TestShortFrameSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	short := make([]byte, frame.HeaderSize+10)
	binary.BigEndian.PutUint32(short, 4000)

	m := moq.NewMemory(moq.MemoryOptions{})
	publishTrack(t, ctx, m, "a", [][]byte{rawFrame(t, 0), short, rawFrame(t, 1), rawFrame(t, 2)})
	publishTrack(t, ctx, m, "metadata-a", [][]byte{frame.MarshalClock(0)})

	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: time.Second}).Run(ctx, "a", "metadata-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, []int16{0, 1, 2}, firstSamples(&sink))
}

func TestCorruptPacketSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	corrupt, err := frame.Marshal([]byte{1, 2, 3})
	require.NoError(t, err)

	m := moq.NewMemory(moq.MemoryOptions{})
	publishTrack(t, ctx, m, "a", [][]byte{corrupt, rawFrame(t, 7)})
	publishTrack(t, ctx, m, "metadata-a", [][]byte{frame.MarshalClock(0)})

	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: time.Second}).Run(ctx, "a", "metadata-a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []int16{7}, firstSamples(&sink))
}

func TestMissingClockPlaysFromStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := moq.NewMemory(moq.MemoryOptions{})
	publishTrack(t, ctx, m, "a", [][]byte{rawFrame(t, 0), rawFrame(t, 1)})

	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: 20 * time.Millisecond}).Run(ctx, "a", "metadata-a")
	require.NoError(t, err)
	assert.Zero(t, res.TargetMs)
	assert.Equal(t, 2, res.Delivered)
}

func TestAudioUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := moq.NewMemory(moq.MemoryOptions{})
	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: 20 * time.Millisecond}).Run(ctx, "a", "metadata-a")
	assert.ErrorIs(t, err, ErrTrackUnavailable)
	assert.Equal(t, StateUnavailable, res.State)
}

func TestStalledGroupUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := moq.NewMemory(moq.MemoryOptions{})
	p, err := m.Publish(ctx, "a")
	require.NoError(t, err)
	g, err := p.CreateGroup(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, g.WriteFrame(ctx, rawFrame(t, 0)))

	var sink bytes.Buffer
	res, err := New(m, newDecoder(t), &sink, Options{GroupTimeout: 20 * time.Millisecond}).Run(ctx, "a", "metadata-a")
	assert.ErrorIs(t, err, ErrTrackUnavailable)
	assert.Equal(t, 1, res.Delivered)
}

// scripted session serving fixed groups per track.
type scriptSession struct {
	tracks map[string][][][]byte
}

func (s *scriptSession) Publish(ctx context.Context, name string) (moq.TrackProducer, error) {
	return nil, errors.New("read only")
}

func (s *scriptSession) Subscribe(ctx context.Context, name string) (moq.TrackConsumer, error) {
	groups, ok := s.tracks[name]
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &scriptTrack{groups: groups}, nil
}

func (s *scriptSession) Close() error { return nil }

type scriptTrack struct {
	groups [][][]byte
	next   int
}

func (t *scriptTrack) NextGroup(ctx context.Context) (moq.GroupConsumer, error) {
	if t.next >= len(t.groups) {
		return nil, nil
	}
	g := &scriptGroup{id: uint64(t.next), frames: t.groups[t.next]}
	t.next++
	return g, nil
}

func (t *scriptTrack) Close() error { return nil }

type scriptGroup struct {
	id     uint64
	frames [][]byte
}

func (g *scriptGroup) ID() uint64 { return g.id }

func (g *scriptGroup) NextFrame(ctx context.Context) (moq.FrameConsumer, error) {
	if len(g.frames) == 0 {
		return nil, nil
	}
	f := g.frames[0]
	g.frames = g.frames[1:]
	// Split into two chunks.
	half := len(f) / 2
	return &scriptFrame{chunks: [][]byte{f[:half], f[half:]}}, nil
}

type scriptFrame struct {
	chunks [][]byte
}

func (f *scriptFrame) Read(ctx context.Context) ([]byte, error) {
	if len(f.chunks) == 0 {
		return nil, nil
	}
	c := f.chunks[0]
	f.chunks = f.chunks[1:]
	return c, nil
}

func TestCatchUpCrossesGroups(t *testing.T) {
	ctx := context.Background()
	s := &scriptSession{tracks: map[string][][][]byte{
		"a": {
			{rawFrame(t, 0), rawFrame(t, 1)},
			{},
			{rawFrame(t, 2), rawFrame(t, 3), rawFrame(t, 4)},
		},
		"metadata-a": {{frame.MarshalClock(50)}},
	}}

	var sink bytes.Buffer
	res, err := New(s, newDecoder(t), &sink, Options{GroupTimeout: time.Second}).Run(ctx, "a", "metadata-a")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dropped)
	assert.Equal(t, uint64(60), res.DroppedMs)
	assert.Equal(t, []int16{3, 4}, firstSamples(&sink))
}

func TestCatchUpMonotonic(t *testing.T) {
	for _, target := range []uint64{0, 1, 20, 21, 100, 1_000_000} {
		var frames [][]byte
		for i := 0; i < 5; i++ {
			frames = append(frames, rawFrame(t, i))
		}
		s := &scriptSession{tracks: map[string][][][]byte{
			"a":          {frames},
			"metadata-a": {{frame.MarshalClock(target)}},
		}}

		var sink bytes.Buffer
		res, err := New(s, newDecoder(t), &sink, Options{GroupTimeout: time.Second}).Run(context.Background(), "a", "metadata-a")
		assert.LessOrEqual(t, res.Dropped, 5)
		assert.Equal(t, 5, res.Dropped+res.Delivered)
		if target > 100 {
			assert.ErrorIs(t, err, ErrNoContent)
		} else {
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.DroppedMs, target)
			assert.Less(t, res.DroppedMs, target+20)
		}
	}
}

type failSink struct{}

func (failSink) Write(p []byte) (int, error) { return 0, errors.New("sink closed") }

func TestSinkFailure(t *testing.T) {
	s := &scriptSession{tracks: map[string][][][]byte{
		"a":          {{rawFrame(t, 0)}},
		"metadata-a": {{frame.MarshalClock(0)}},
	}}
	_, err := New(s, newDecoder(t), failSink{}, Options{}).Run(context.Background(), "a", "metadata-a")
	assert.ErrorContains(t, err, "sink closed")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "no-content", StateNoContent.String())
	assert.Equal(t, "live", StateLive.String())
}
