package speech

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"speech-commands/models"

	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	mu       sync.Mutex
	started  []models.TrainingRun
	finished []models.TrainingRun
}

func (r *recordingRecorder) StartRun(_ context.Context, run models.TrainingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
	return nil
}

func (r *recordingRecorder) FinishRun(_ context.Context, run models.TrainingRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return nil
}

func newTestSession(t *testing.T, dataDir string) (*TrainingSession, *recordingRecorder) {
	t.Helper()
	rec := &recordingRecorder{}
	return &TrainingSession{
		DataDir:        dataDir,
		CheckpointPath: filepath.Join(t.TempDir(), "best_model.msgpack"),
		Preprocessor:   NewClipPreprocessor(nil),
		Recorder:       rec,
		Options:        fastOptions(),
	}, rec
}

func TestTrainFromScratchWritesCheckpoint(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 20)

	session, rec := newTestSession(t, root)
	result, err := session.Train(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 2, result.Epochs)
	require.GreaterOrEqual(t, result.Checkpoints, 1)
	require.Equal(t, Vocabulary{"no", "yes"}, result.Vocabulary)

	cp, err := LoadCheckpoint(session.CheckpointPath)
	require.NoError(t, err)
	require.Len(t, cp.Vocabulary, 2)
	require.Equal(t, 2, cp.Architecture.Outputs)
	require.Equal(t, result.RunID, cp.RunID)

	require.Len(t, rec.started, 1)
	require.Len(t, rec.finished, 1)
	require.Equal(t, models.RunCompleted, rec.finished[0].Status)
	require.Equal(t, 40, rec.finished[0].Samples)
	require.Equal(t, 2, rec.finished[0].Classes)
}

func TestCheckpointAccuracyIsMonotonic(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 10)
	session, _ := newTestSession(t, root)
	session.Options.MaxEpochs = 4

	var written []float64
	session.OnEpoch = func(_ string, m EpochMetrics) {
		if !m.Saved {
			return
		}
		cp, err := LoadCheckpoint(session.CheckpointPath)
		require.NoError(t, err)
		require.Equal(t, m.Epoch, cp.Epoch)
		written = append(written, cp.ValAccuracy)
	}

	_, err := session.Train(context.Background(), true)
	require.NoError(t, err)
	require.NotEmpty(t, written)
	for i := 1; i < len(written); i++ {
		require.GreaterOrEqual(t, written[i], written[i-1])
	}
}

func TestTrainStopsEarlyWithoutImprovement(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 5)
	session, _ := newTestSession(t, root)
	session.Options.MaxEpochs = 10
	session.Options.Patience = 1
	session.Options.MinDelta = 1e9

	result, err := session.Train(context.Background(), true)
	require.NoError(t, err)
	require.True(t, result.StoppedEarly)
	require.Equal(t, 2, result.Epochs)
}

func TestResumeRequiresMatchingVocabulary(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 5)
	session, _ := newTestSession(t, root)
	session.Options.MaxEpochs = 1

	_, err := session.Train(context.Background(), true)
	require.NoError(t, err)

	// Same vocabulary: resumes from the checkpoint.
	result, err := session.Train(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Epochs)

	writeDataset(t, root, []string{"up"}, 5)
	_, err = session.Train(context.Background(), false)
	require.ErrorIs(t, err, ErrTraining)

	cp, err := LoadCheckpoint(session.CheckpointPath)
	require.NoError(t, err)
	require.Equal(t, Vocabulary{"no", "yes"}, cp.Vocabulary)
}

func TestTrainFailuresLeaveCheckpointUntouched(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 5)
	session, rec := newTestSession(t, root)
	session.Options.MaxEpochs = 1

	_, err := session.Train(context.Background(), true)
	require.NoError(t, err)
	before, err := LoadCheckpoint(session.CheckpointPath)
	require.NoError(t, err)

	// A class with a single clip cannot be stratified.
	writeDataset(t, root, []string{"up"}, 1)
	_, err = session.Train(context.Background(), true)
	require.ErrorIs(t, err, ErrTraining)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Fit(ctx, nil, true)
	require.ErrorIs(t, err, ErrTraining)

	after, err := LoadCheckpoint(session.CheckpointPath)
	require.NoError(t, err)
	require.Equal(t, before.RunID, after.RunID)
	require.Equal(t, models.RunFailed, rec.finished[len(rec.finished)-1].Status)
}

func TestTrainCancelledBetweenBatches(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, []string{"yes", "no"}, 5)
	session, rec := newTestSession(t, root)

	samples, err := session.Preprocessor.LoadDataset(context.Background(), root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Fit(ctx, samples, true)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrTraining)

	_, err = LoadCheckpoint(session.CheckpointPath)
	require.ErrorIs(t, err, ErrNoCheckpoint)
	require.Equal(t, models.RunCancelled, rec.finished[0].Status)
}
