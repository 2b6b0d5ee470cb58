package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesRead(t *testing.T) {
	s := NewSamples(48000, 2, []int16{1, 2, 3, 4, 5})
	assert.Equal(t, 48000, s.SampleRate())
	assert.Equal(t, 2, s.Channels())

	buf := make([]int16, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int16{1, 2, 3, 4}, buf)

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenMP3Missing(t *testing.T) {
	_, err := OpenMP3(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenMP3Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mp3")
	require.NoError(t, os.WriteFile(path, []byte("not an mp3"), 0o644))

	_, err := OpenMP3(path)
	assert.Error(t, err)
}
