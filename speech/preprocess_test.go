package speech

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDatasetSkipsCorruptClip(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes"}, 9)
	writeGarbage(t, filepath.Join(root, "yes", "broken.wav"))

	samples, err := NewClipPreprocessor(nil).LoadDataset(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, samples, 9)
	for _, s := range samples {
		require.Len(t, s.Waveform, AudioSize)
		require.Equal(t, "yes", s.Label)
		require.NotContains(t, s.Source, "broken")
	}
}

func TestLoadDatasetIgnoresHiddenAndNonWav(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"no", "up"}, 2)
	writeDataset(t, filepath.Join(root, ".cache"), []string{"yes"}, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "no", "README.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.wav"), []byte("x"), 0o644))

	samples, err := NewClipPreprocessor(nil).LoadDataset(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, samples, 4)

	counts := map[string]int{}
	for _, s := range samples {
		counts[s.Label]++
	}
	require.Equal(t, map[string]int{"no": 2, "up": 2}, counts)
}

func TestLoadDatasetMissingRoot(t *testing.T) {
	_, err := NewClipPreprocessor(nil).LoadDataset(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, ErrTraining)
}

func TestLoadDatasetHonorsCancellation(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes"}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClipPreprocessor(nil).LoadDataset(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadDatasetUsesCache(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes"}, 3)

	cache := newMemoryCache()
	pre := NewClipPreprocessor(cache)

	first, err := pre.LoadDataset(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, cache.data, 3)
	require.Zero(t, cache.hits)

	second, err := pre.LoadDataset(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 3, cache.hits)
	require.Equal(t, first[0].Waveform, second[0].Waveform)
}

func TestPrepareClipAlwaysYieldsAudioSize(t *testing.T) {
	pre := NewClipPreprocessor(nil)
	for _, tc := range []struct {
		name string
		n    int
		rate int
	}{
		{"one second", SampleRate, SampleRate},
		{"short", 3000, SampleRate},
		{"odd long", 24001, SampleRate},
		{"exact", AudioSize, SampleRate},
		{"44.1k", 44100, 44100},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, err := pre.PrepareClip(tone(440, tc.n, tc.rate, 0, nil), tc.rate)
			require.NoError(t, err)
			require.Len(t, out, AudioSize)
		})
	}
}

func TestPrepareClipRejectsEmpty(t *testing.T) {
	_, err := NewClipPreprocessor(nil).PrepareClip(nil, SampleRate)
	require.ErrorIs(t, err, ErrData)
	require.Equal(t, KindData, KindOf(err))
}

func TestFitLengthPreservesTone(t *testing.T) {
	// 100 Hz sampled at 16 kHz for one second, halved to 8000 points, is the
	// same tone sampled at 8 kHz.
	in := tone(100, 16000, 16000, 0, nil)
	out, err := FitLength(in, 8000)
	require.NoError(t, err)
	require.Len(t, out, 8000)

	want := tone(100, 8000, 8000, 0, nil)
	for i := range out {
		if math.Abs(out[i]-want[i]) > 1e-6 {
			t.Fatalf("sample %d: got %f want %f", i, out[i], want[i])
		}
	}
}

func TestFitLengthUpsamplesConstant(t *testing.T) {
	in := make([]float64, 101)
	for i := range in {
		in[i] = 0.25
	}
	out, err := FitLength(in, 400)
	require.NoError(t, err)
	require.Len(t, out, 400)
	for _, v := range out {
		require.InDelta(t, 0.25, v, 1e-9)
	}

	_, err = FitLength(nil, 10)
	require.Error(t, err)
	_, err = FitLength(in, 0)
	require.True(t, err != nil && !errors.Is(err, ErrData))
}
