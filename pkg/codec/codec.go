// Package codec defines the audio coder contract used by the publisher and
// subscriber. Coded packets carry 20 ms of 48 kHz audio.
package codec

import (
	"errors"
	"fmt"
)

// Audio format constants
const (
	SampleRate   = 48000 // Hz
	FrameSamples = 960   // samples per channel per 20 ms frame
	MaxPacket    = 4000  // output buffer for one coded packet
	OutChannels  = 2     // decoders always yield interleaved stereo
)

var (
	ErrUnsupportedChannels = errors.New("unsupported channel count")
	ErrInvalidFrame        = errors.New("invalid frame size")
	ErrCorruptPacket       = errors.New("corrupt packet")
	ErrUnknownCodec        = errors.New("unknown codec")
)

// Encoder codes exactly one frame of interleaved PCM per call.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns one coded packet into interleaved stereo PCM and reports the
// number of samples per channel it produced.
type Decoder interface {
	Decode(packet []byte) ([]int16, int, error)
}

// Factory builds encoders and decoders for one codec.
type Factory interface {
	Name() string
	NewEncoder(channels int) (Encoder, error)
	NewDecoder() (Decoder, error)
}

// ValidateChannels accepts mono and stereo only.
func ValidateChannels(channels int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, channels)
	}
	return nil
}

// DurationMs converts a per-channel sample count at SampleRate to whole
// milliseconds.
func DurationMs(samples int) uint64 {
	return uint64(samples) * 1000 / SampleRate
}
