// Package source provides decoded PCM inputs for the publisher.
package source

import "io"

// Source yields interleaved 16-bit PCM. Read returns io.EOF once drained.
type Source interface {
	SampleRate() int
	Channels() int
	Read(pcm []int16) (int, error)
}

// Samples is an in-memory source.
type Samples struct {
	rate     int
	channels int
	pcm      []int16
	pos      int
}

// NewSamples creates a source over interleaved pcm.
func NewSamples(rate, channels int, pcm []int16) *Samples {
	return &Samples{rate: rate, channels: channels, pcm: pcm}
}

func (s *Samples) SampleRate() int { return s.rate }
func (s *Samples) Channels() int   { return s.channels }

func (s *Samples) Read(pcm []int16) (int, error) {
	if s.pos >= len(s.pcm) {
		return 0, io.EOF
	}
	n := copy(pcm, s.pcm[s.pos:])
	s.pos += n
	return n, nil
}
