package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"speech-commands/utils"
	"speech-commands/wav"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Preprocessor turns raw clips into fixed-length waveforms.
type Preprocessor interface {
	// LoadDataset reads root/<label>/*.wav and returns every clip that
	// prepares cleanly. Bad clips are logged and skipped.
	LoadDataset(ctx context.Context, root string) ([]Sample, error)
	// PrepareClip converts mono samples at sampleRate to AudioSize values.
	PrepareClip(samples []float64, sampleRate int) ([]float64, error)
}

// WaveformCache memoises prepared waveforms between runs.
type WaveformCache interface {
	Get(key string) ([]float64, bool, error)
	Put(key string, waveform []float64) error
}

// ClipPreprocessor is the default Preprocessor.
type ClipPreprocessor struct {
	SampleRate int
	AudioSize  int
	Cache      WaveformCache
}

// NewClipPreprocessor returns a preprocessor for SampleRate/AudioSize clips.
// cache may be nil.
func NewClipPreprocessor(cache WaveformCache) *ClipPreprocessor {
	return &ClipPreprocessor{SampleRate: SampleRate, AudioSize: AudioSize, Cache: cache}
}

func (p *ClipPreprocessor) LoadDataset(ctx context.Context, root string) ([]Sample, error) {
	logger := utils.GetLogger()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, NewError(KindTraining, "load dataset", err)
	}

	var samples []Sample
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		label := entry.Name()
		labelDir := filepath.Join(root, label)

		files, err := os.ReadDir(labelDir)
		if err != nil {
			logger.WarnContext(ctx, "failed to list label folder",
				slog.String("label", label),
				slog.Any("error", NewError(KindData, "list clips", err)),
			)
			continue
		}

		accepted, rejected := 0, 0
		for _, file := range files {
			if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".wav") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, NewError(KindTraining, "load dataset", err)
			}

			path := filepath.Join(labelDir, file.Name())
			waveform, err := p.loadClip(path)
			if err != nil {
				rejected++
				logger.WarnContext(ctx, "skipping clip",
					slog.String("path", path),
					slog.Any("error", err),
				)
				continue
			}

			accepted++
			samples = append(samples, Sample{Waveform: waveform, Label: label, Source: path})
		}

		logger.InfoContext(ctx, "label accepted clips",
			slog.String("label", label),
			slog.Int("accepted", accepted),
			slog.Int("rejected", rejected),
		)
	}

	return samples, nil
}

func (p *ClipPreprocessor) loadClip(path string) ([]float64, error) {
	key := ""
	if p.Cache != nil {
		if info, err := os.Stat(path); err == nil {
			key = fmt.Sprintf("%s|%d|%d|%d", path, info.Size(), info.ModTime().UnixNano(), p.AudioSize)
			if cached, ok, err := p.Cache.Get(key); err == nil && ok && len(cached) == p.AudioSize {
				return cached, nil
			}
		}
	}

	audio, err := wav.ReadFile(path)
	if err != nil {
		return nil, NewError(KindData, "decode clip", err)
	}
	waveform, err := p.PrepareClip(audio.Samples, audio.SampleRate)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := p.Cache.Put(key, waveform); err != nil {
			utils.GetLogger().Warn("failed to cache waveform", slog.String("path", path), slog.Any("error", err))
		}
	}
	return waveform, nil
}

func (p *ClipPreprocessor) PrepareClip(samples []float64, sampleRate int) ([]float64, error) {
	if len(samples) == 0 {
		return nil, dataErrorf("prepare clip", "clip has no samples")
	}

	resampled, err := wav.Resample(samples, sampleRate, p.SampleRate)
	if err != nil {
		return nil, NewError(KindData, "prepare clip", err)
	}
	framed, err := FitLength(resampled, p.AudioSize)
	if err != nil {
		return nil, NewError(KindData, "prepare clip", err)
	}
	if len(framed) != p.AudioSize {
		return nil, dataErrorf("prepare clip", "clip has %d samples after framing, want %d", len(framed), p.AudioSize)
	}
	return framed, nil
}

// FitLength Fourier-resamples x to exactly n values: the spectrum is
// truncated or zero-padded and transformed back, matching
// scipy.signal.resample for real input.
func FitLength(x []float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid target length %d", n)
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("cannot resample an empty signal")
	}
	if len(x) == n {
		return append([]float64(nil), x...), nil
	}

	nx := len(x)
	spectrum := fourier.NewFFT(nx).Coefficients(nil, x)

	out := make([]complex128, n/2+1)
	keep := min(n, nx)
	nyq := keep/2 + 1
	copy(out[:nyq], spectrum[:nyq])

	if keep%2 == 0 {
		if n < nx {
			out[keep/2] *= 2
		} else {
			out[keep/2] *= 0.5
		}
	}

	y := fourier.NewFFT(n).Sequence(nil, out)
	scale := 1 / float64(nx)
	for i := range y {
		y[i] *= scale
	}
	return y, nil
}
