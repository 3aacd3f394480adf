package speech

import (
	"context"
	"errors"
	"os"
	"sync"

	"speech-commands/models"
	"speech-commands/nn"
	"speech-commands/tracing"
	"speech-commands/wav"

	"go.opentelemetry.io/otel/attribute"
)

// Prediction is the result of classifying one clip.
type Prediction struct {
	Label         string
	Index         int
	Confidence    float64
	Probabilities map[string]float64
	RunID         string
}

// InferenceContext classifies clips with the checkpoint at CheckpointPath.
// The checkpoint is re-read whenever the file changes on disk.
type InferenceContext struct {
	CheckpointPath string
	Preprocessor   Preprocessor

	mu     sync.Mutex
	loaded *loadedModel
}

type loadedModel struct {
	file       os.FileInfo
	generation uint64
	checkpoint *Checkpoint
	net        *nn.Network
}

// current reports whether m still matches the file described by info. Saves
// from this process are tracked by generation since a rewritten checkpoint
// usually keeps its size and can keep its mtime.
func (m *loadedModel) current(info os.FileInfo, generation uint64) bool {
	return m.generation == generation &&
		os.SameFile(m.file, info) &&
		m.file.ModTime().Equal(info.ModTime()) &&
		m.file.Size() == info.Size()
}

// NewInferenceContext returns an inference engine reading checkpointPath.
func NewInferenceContext(checkpointPath string, pre Preprocessor) *InferenceContext {
	if pre == nil {
		pre = NewClipPreprocessor(nil)
	}
	return &InferenceContext{CheckpointPath: checkpointPath, Preprocessor: pre}
}

func (ic *InferenceContext) model() (*loadedModel, error) {
	info, err := os.Stat(ic.CheckpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, NewError(KindConfig, "load checkpoint", err)
	}

	generation := checkpointWrites.Load()

	ic.mu.Lock()
	defer ic.mu.Unlock()

	if ic.loaded != nil && ic.loaded.current(info, generation) {
		return ic.loaded, nil
	}

	cp, err := LoadCheckpoint(ic.CheckpointPath)
	if err != nil {
		return nil, err
	}
	net, err := cp.Network()
	if err != nil {
		return nil, err
	}
	ic.loaded = &loadedModel{file: info, generation: generation, checkpoint: cp, net: net}
	return ic.loaded, nil
}

// Predict prepares samples (mono, at sampleRate) and returns the most likely
// class of the current checkpoint.
func (ic *InferenceContext) Predict(ctx context.Context, samples []float64, sampleRate int) (pred Prediction, err error) {
	ctx, span := tracing.StartSpan(ctx, "speech.predict")
	defer func() { tracing.End(span, err) }()

	m, err := ic.model()
	if err != nil {
		return Prediction{}, err
	}

	waveform, err := ic.Preprocessor.PrepareClip(samples, sampleRate)
	if err != nil {
		return Prediction{}, err
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	probs, err := m.net.Predict(waveform)
	if err != nil {
		return Prediction{}, NewError(KindConfig, "predict", err)
	}

	idx := nn.Argmax(probs)
	label, err := m.checkpoint.Vocabulary.Label(idx)
	if err != nil {
		return Prediction{}, err
	}

	pred = Prediction{
		Label:         label,
		Index:         idx,
		Confidence:    probs[idx],
		Probabilities: make(map[string]float64, len(probs)),
		RunID:         m.checkpoint.RunID,
	}
	for i, p := range probs {
		pred.Probabilities[m.checkpoint.Vocabulary[i]] = p
	}

	span.SetAttributes(
		attribute.String(tracing.AttrLabel, label),
		attribute.Float64(tracing.AttrConfidence, pred.Confidence),
	)
	return pred, nil
}

// PredictFile classifies the WAV file at path.
func (ic *InferenceContext) PredictFile(ctx context.Context, path string) (Prediction, error) {
	audio, err := wav.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Prediction{}, configErrorf("predict", "no clip at %s", path)
		}
		return Prediction{}, NewError(KindData, "decode clip", err)
	}
	return ic.Predict(ctx, audio.Samples, audio.SampleRate)
}

// ModelInfo describes the current checkpoint. Trained is false when none exists.
func (ic *InferenceContext) ModelInfo() (models.ModelInfo, error) {
	m, err := ic.model()
	if errors.Is(err, ErrNoCheckpoint) {
		return models.ModelInfo{Trained: false, Vocabulary: []string{}, InputLength: AudioSize}, nil
	}
	if err != nil {
		return models.ModelInfo{}, err
	}

	cp := m.checkpoint
	return models.ModelInfo{
		Trained:      true,
		RunID:        cp.RunID,
		Vocabulary:   append([]string(nil), cp.Vocabulary...),
		Epoch:        cp.Epoch,
		ValAccuracy:  cp.ValAccuracy,
		ValLoss:      cp.ValLoss,
		CreatedAt:    cp.CreatedAt,
		Parameters:   m.net.ParamCount(),
		InputLength:  cp.Architecture.InputLength,
		Architecture: cp.Architecture,
	}, nil
}
