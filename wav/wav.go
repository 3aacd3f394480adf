// Package wav decodes and encodes PCM WAV clips and converts them to the
// mono float64 representation used by the training pipeline.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidFile is returned when the input is not a decodable PCM WAV stream.
var ErrInvalidFile = errors.New("wav: not a valid WAV file")

// Audio is a decoded clip down-mixed to a single channel. Samples are
// normalised to [-1, 1].
type Audio struct {
	Samples    []float64
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the clip length in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Decode reads a whole WAV stream and averages its channels into mono.
func Decode(r io.ReadSeeker) (*Audio, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidFile
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrInvalidFile
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = int(decoder.NumChans)
	}
	if channels <= 0 {
		return nil, ErrInvalidFile
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}

	scale, offset, err := pcmScale(bitDepth)
	if err != nil {
		return nil, err
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("wav: no audio frames: %w", ErrInvalidFile)
	}

	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += (float64(buf.Data[i*channels+ch]) - offset) / scale
		}
		samples[i] = sum / float64(channels)
	}

	sampleRate := int(decoder.SampleRate)
	if sampleRate <= 0 {
		sampleRate = buf.Format.SampleRate
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d: %w", sampleRate, ErrInvalidFile)
	}

	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// pcmScale returns the divisor and zero offset for integer PCM of the given
// depth. 8 bit WAV is unsigned.
func pcmScale(bitDepth int) (float64, float64, error) {
	switch bitDepth {
	case 8:
		return 128.0, 128.0, nil
	case 16:
		return 32768.0, 0, nil
	case 24:
		return 8388608.0, 0, nil
	case 32:
		return 2147483648.0, 0, nil
	default:
		return 0, 0, fmt.Errorf("wav: unsupported bit depth %d", bitDepth)
	}
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Audio, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	clip, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return clip, nil
}

// LoadFile decodes path and converts it to targetRate, the equivalent of
// loading a clip "at" a fixed sample rate.
func LoadFile(path string, targetRate int) ([]float64, error) {
	clip, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Resample(clip.Samples, clip.SampleRate, targetRate)
}

// Encode writes samples as a 16 bit mono PCM WAV stream.
func Encode(w io.WriteSeeker, samples []float64, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	encoder := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write pcm data: %w", err)
	}
	return encoder.Close()
}

// WriteFile encodes samples into a new WAV file at path, replacing any
// existing file.
func WriteFile(path string, samples []float64, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := Encode(file, samples, sampleRate); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
