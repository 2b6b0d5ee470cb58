package codec

import (
	"encoding/binary"
	"fmt"
)

// Raw carries little-endian 16-bit PCM uncompressed. Mono input is widened to
// stereo on encode so packets decode without extra state.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) NewEncoder(channels int) (Encoder, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}
	return &rawEncoder{channels: channels}, nil
}

func (Raw) NewDecoder() (Decoder, error) {
	return rawDecoder{}, nil
}

type rawEncoder struct {
	channels int
}

func (e *rawEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 || len(pcm)%e.channels != 0 {
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrInvalidFrame, len(pcm), e.channels)
	}

	perChannel := len(pcm) / e.channels
	out := make([]byte, perChannel*OutChannels*2)
	for i := 0; i < perChannel; i++ {
		l := pcm[i*e.channels]
		r := l
		if e.channels == 2 {
			r = pcm[i*2+1]
		}
		binary.LittleEndian.PutUint16(out[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(r))
	}
	return out, nil
}

type rawDecoder struct{}

func (rawDecoder) Decode(packet []byte) ([]int16, int, error) {
	if len(packet)%(OutChannels*2) != 0 {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrCorruptPacket, len(packet))
	}

	pcm := make([]int16, len(packet)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(packet[i*2:]))
	}
	return pcm, len(pcm) / OutChannels, nil
}
