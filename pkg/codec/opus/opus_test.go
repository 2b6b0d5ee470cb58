package opus

import (
	"math"
	"testing"

	"airwave/pkg/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(channels int) []int16 {
	pcm := make([]int16, codec.FrameSamples*channels)
	for i := 0; i < codec.FrameSamples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/codec.SampleRate))
		for c := 0; c < channels; c++ {
			pcm[i*channels+c] = v
		}
	}
	return pcm
}

func TestOpusRoundTrip(t *testing.T) {
	for _, channels := range []int{1, 2} {
		enc, err := Codec{}.NewEncoder(channels)
		require.NoError(t, err)
		dec, err := Codec{}.NewDecoder()
		require.NoError(t, err)

		packet, err := enc.Encode(sine(channels))
		require.NoError(t, err)
		assert.NotEmpty(t, packet)
		assert.LessOrEqual(t, len(packet), codec.MaxPacket)

		pcm, n, err := dec.Decode(packet)
		require.NoError(t, err)
		assert.Equal(t, codec.FrameSamples, n)
		assert.Len(t, pcm, codec.FrameSamples*codec.OutChannels)
	}
}

func TestOpusRejectsPartialFrame(t *testing.T) {
	enc, err := Codec{}.NewEncoder(2)
	require.NoError(t, err)

	_, err = enc.Encode(make([]int16, 100))
	assert.ErrorIs(t, err, codec.ErrInvalidFrame)
}

func TestOpusRegistered(t *testing.T) {
	f, err := codec.Lookup("opus")
	require.NoError(t, err)
	assert.Equal(t, "opus", f.Name())
}
