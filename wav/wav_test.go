package wav

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sine(freq float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestWriteFileThenReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clips", "tone.wav")
	want := sine(440, 16000, 1600)

	require.NoError(t, WriteFile(path, want, 16000))

	clip, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 16000, clip.SampleRate)
	require.Equal(t, 1, clip.Channels)
	require.Equal(t, 16, clip.BitDepth)
	require.Len(t, clip.Samples, len(want))
	require.InDelta(t, 0.1, clip.Duration(), 1e-9)
	for i := range want {
		require.InDelta(t, want[i], clip.Samples[i], 1e-3)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a riff header")))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidFile))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.wav"))
	require.True(t, os.IsNotExist(err))
}

func TestResampleSameRateCopies(t *testing.T) {
	in := []float64{0.1, 0.2, 0.3}
	out, err := Resample(in, 16000, 16000)
	require.NoError(t, err)
	require.Equal(t, in, out)

	out[0] = 1
	require.Equal(t, 0.1, in[0])

	_, err = Resample(in, 0, 16000)
	require.Error(t, err)
}
