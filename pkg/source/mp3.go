package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// MP3 decodes an mp3 file to 16-bit stereo PCM.
type MP3 struct {
	file *os.File
	dec  *mp3.Decoder
	buf  []byte
}

// OpenMP3 opens and starts decoding path.
func OpenMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		closeWithLog(f)
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &MP3{file: f, dec: dec}, nil
}

func (m *MP3) SampleRate() int { return m.dec.SampleRate() }

// Channels is always 2; the decoder upmixes mono streams.
func (m *MP3) Channels() int { return 2 }

func (m *MP3) Read(pcm []int16) (int, error) {
	need := len(pcm) * 2
	if cap(m.buf) < need {
		m.buf = make([]byte, need)
	}
	buf := m.buf[:need]

	n, err := io.ReadFull(m.dec, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if samples == 0 && err == nil {
		err = io.EOF
	}
	return samples, err
}

func (m *MP3) Close() error {
	return m.file.Close()
}

func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Error closing resource", "err", err)
	}
}
