package frame

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshalUnmarshal(t *testing.T) {
	for _, size := range []int{0, 1, 160, MaxPayload} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		data, err := Marshal(payload)
		require.NoError(t, err)
		assert.Len(t, data, HeaderSize+size)
		assert.Equal(t, uint32(size), binary.BigEndian.Uint32(data[:HeaderSize]))

		got, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestFramePayloadTooLarge(t *testing.T) {
	_, err := Marshal(make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestFrameTooSmall(t *testing.T) {
	_, err := Unmarshal([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrFrameTooSmall)
}

func TestFrameShort(t *testing.T) {
	data := make([]byte, HeaderSize+10)
	binary.BigEndian.PutUint32(data, 4000)

	_, err := Unmarshal(data)
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameTrailingBytesIgnored(t *testing.T) {
	data, err := Marshal([]byte("abc"))
	require.NoError(t, err)
	data = append(data, 'x', 'y')

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestClock(t *testing.T) {
	data := MarshalClock(123456)
	assert.Len(t, data, HeaderSize+ClockPayloadSize)

	ms, err := UnmarshalClock(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), ms)

	ms, err = UnmarshalClock(data[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), ms)

	bad, err := Marshal([]byte{1, 2, 3})
	require.NoError(t, err)
	_, err = UnmarshalClock(bad)
	assert.ErrorIs(t, err, ErrClockPayload)
}

type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(ctx context.Context) ([]byte, error) {
	if len(r.chunks) == 0 {
		return nil, r.err
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, nil
}

func TestCollect(t *testing.T) {
	data, err := Marshal([]byte("hello world"))
	require.NoError(t, err)

	r := &chunkReader{chunks: [][]byte{data[:3], data[3:9], data[9:]}}
	payload, err := ReadPayload(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), payload)
}

func TestCollectError(t *testing.T) {
	boom := errors.New("boom")
	r := &chunkReader{chunks: [][]byte{{1, 2}}, err: boom}

	_, err := Collect(context.Background(), r)
	assert.ErrorIs(t, err, boom)
}
