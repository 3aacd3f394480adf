package speech

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"speech-commands/wav"
)

var toneFrequencies = map[string]float64{
	"no":  1250,
	"yes": 330,
	"up":  700,
}

func tone(freq float64, n, rate int, noise float64, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		v := 0.6 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
		if rng != nil && noise > 0 {
			v += noise * (rng.Float64()*2 - 1)
		}
		out[i] = v
	}
	return out
}

func writeClip(t *testing.T, path string, samples []float64, rate int) {
	t.Helper()
	if err := wav.WriteFile(path, samples, rate); err != nil {
		t.Fatalf("failed to write clip %s: %v", path, err)
	}
}

// writeDataset writes perClass one-second noisy tones for every label under root.
func writeDataset(t *testing.T, root string, labels []string, perClass int) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	for _, label := range labels {
		for i := 0; i < perClass; i++ {
			path := filepath.Join(root, label, label+"_"+string(rune('a'+i%26))+string(rune('a'+i/26))+".wav")
			writeClip(t, path, tone(toneFrequencies[label], SampleRate, SampleRate, 0.05, rng), SampleRate)
		}
	}
}

func writeGarbage(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("definitely not a RIFF header"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
}

type memoryCache struct {
	data map[string][]float64
	gets int
	hits int
}

func newMemoryCache() *memoryCache { return &memoryCache{data: map[string][]float64{}} }

func (c *memoryCache) Get(key string) ([]float64, bool, error) {
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memoryCache) Put(key string, waveform []float64) error {
	c.data[key] = waveform
	return nil
}

func fastOptions() TrainOptions {
	opts := DefaultTrainOptions()
	opts.MaxEpochs = 2
	opts.Workers = 4
	return opts
}
