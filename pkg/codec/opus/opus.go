// Package opus adapts libopus to the codec contract. Importing it registers
// the "opus" codec.
package opus

import (
	"fmt"

	"airwave/pkg/codec"

	"gopkg.in/hraban/opus.v2"
)

func init() {
	codec.Register(Codec{})
}

// Codec builds libopus encoders and decoders at 48 kHz.
type Codec struct{}

func (Codec) Name() string { return "opus" }

func (Codec) NewEncoder(channels int) (codec.Encoder, error) {
	if err := codec.ValidateChannels(channels); err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(codec.SampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	return &encoder{enc: enc, channels: channels, buf: make([]byte, codec.MaxPacket)}, nil
}

func (Codec) NewDecoder() (codec.Decoder, error) {
	dec, err := opus.NewDecoder(codec.SampleRate, codec.OutChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	// 120 ms is the longest opus packet
	return &decoder{dec: dec, pcm: make([]int16, 5760*codec.OutChannels)}, nil
}

type encoder struct {
	enc      *opus.Encoder
	channels int
	buf      []byte
}

func (e *encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != codec.FrameSamples*e.channels {
		return nil, fmt.Errorf("%w: %d samples for %d channels", codec.ErrInvalidFrame, len(pcm), e.channels)
	}
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

type decoder struct {
	dec *opus.Decoder
	pcm []int16
}

func (d *decoder) Decode(packet []byte) ([]int16, int, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", codec.ErrCorruptPacket, err)
	}
	out := make([]int16, n*codec.OutChannels)
	copy(out, d.pcm[:n*codec.OutChannels])
	return out, n, nil
}
