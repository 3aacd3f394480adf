package speech

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"time"

	"speech-commands/models"
	"speech-commands/nn"
	"speech-commands/tracing"
	"speech-commands/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// TrainOptions tunes the fit loop.
type TrainOptions struct {
	MaxEpochs       int
	BatchSize       int
	Patience        int
	MinDelta        float64
	ValidationSplit float64
	Seed            int64
	LearningRate    float64
	// Workers bounds the goroutines computing per-sample gradients.
	Workers int
}

// DefaultTrainOptions returns the standard schedule: up to 100 epochs of
// 32-sample batches, early stopping after 10 epochs without a 1e-4 drop in
// validation loss.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		MaxEpochs:       100,
		BatchSize:       32,
		Patience:        10,
		MinDelta:        1e-4,
		ValidationSplit: DefaultValidationSplit,
		Seed:            DefaultSeed,
		LearningRate:    1e-3,
		Workers:         runtime.NumCPU(),
	}
}

func (o TrainOptions) withDefaults() TrainOptions {
	def := DefaultTrainOptions()
	if o.MaxEpochs <= 0 {
		o.MaxEpochs = def.MaxEpochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Patience <= 0 {
		o.Patience = def.Patience
	}
	if o.MinDelta < 0 {
		o.MinDelta = def.MinDelta
	}
	if o.ValidationSplit <= 0 {
		o.ValidationSplit = def.ValidationSplit
	}
	if o.LearningRate <= 0 {
		o.LearningRate = def.LearningRate
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	return o
}

// RunRecorder persists the history of training runs.
type RunRecorder interface {
	StartRun(ctx context.Context, run models.TrainingRun) error
	FinishRun(ctx context.Context, run models.TrainingRun) error
}

// EpochMetrics are the results of one epoch.
type EpochMetrics struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	Saved       bool
}

// TrainResult summarises a finished run.
type TrainResult struct {
	RunID           string
	Epochs          int
	BestValAccuracy float64
	BestValLoss     float64
	StoppedEarly    bool
	Checkpoints     int
	Vocabulary      Vocabulary
}

// TrainingSession holds everything one training run needs.
type TrainingSession struct {
	DataDir        string
	CheckpointPath string
	Preprocessor   Preprocessor
	Recorder       RunRecorder
	Options        TrainOptions
	// OnEpoch, if set, observes every finished epoch.
	OnEpoch func(runID string, m EpochMetrics)
}

// Train loads DataDir and fits the classifier. A fresh network is built when
// fromScratch is set or no checkpoint exists; otherwise training resumes from
// the checkpoint. The checkpoint is rewritten only when validation accuracy
// reaches a new maximum for this run.
func (s *TrainingSession) Train(ctx context.Context, fromScratch bool) (TrainResult, error) {
	samples, err := s.Preprocessor.LoadDataset(ctx, s.DataDir)
	if err != nil {
		return TrainResult{}, err
	}
	return s.Fit(ctx, samples, fromScratch)
}

// Fit trains on already prepared samples.
func (s *TrainingSession) Fit(ctx context.Context, samples []Sample, fromScratch bool) (result TrainResult, err error) {
	logger := utils.GetLogger()
	opts := s.Options.withDefaults()

	run := models.TrainingRun{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		FromScratch: fromScratch,
		Status:      models.RunRunning,
		Samples:     len(samples),
	}
	result.RunID = run.ID

	ctx, span := tracing.StartSpan(ctx, "speech.train", tracing.RunAttrs(run.ID, fromScratch)...)
	defer func() { tracing.End(span, err) }()

	if s.Recorder != nil {
		if recErr := s.Recorder.StartRun(ctx, run); recErr != nil {
			logger.WarnContext(ctx, "failed to record training run", slog.Any("error", recErr))
		}
	}
	defer func() {
		finished := time.Now().UTC()
		run.FinishedAt = &finished
		run.Epochs = result.Epochs
		run.BestValAccuracy = result.BestValAccuracy
		run.Classes = len(result.Vocabulary)
		switch {
		case err == nil:
			run.Status = models.RunCompleted
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			run.Status = models.RunCancelled
			run.Error = err.Error()
		default:
			run.Status = models.RunFailed
			run.Error = err.Error()
		}
		if s.Recorder != nil {
			if recErr := s.Recorder.FinishRun(context.WithoutCancel(ctx), run); recErr != nil {
				logger.WarnContext(ctx, "failed to record training run", slog.Any("error", recErr))
			}
		}
	}()

	if len(samples) == 0 {
		return result, trainingErrorf("train", "no usable clips in %q", s.DataDir)
	}

	labels := make([]string, len(samples))
	waveforms := make([][]float64, len(samples))
	for i, sample := range samples {
		labels[i] = sample.Label
		waveforms[i] = sample.Waveform
	}

	enc, err := EncodeLabels(labels)
	if err != nil {
		return result, err
	}
	result.Vocabulary = enc.Vocabulary
	span.SetAttributes(
		attribute.Int(tracing.AttrSamples, len(samples)),
		attribute.Int(tracing.AttrClasses, len(enc.Vocabulary)),
	)

	net, arch, err := s.initModel(ctx, enc.Vocabulary, fromScratch, opts.Seed)
	if err != nil {
		return result, err
	}
	for i, w := range waveforms {
		if len(w) != net.InSize() {
			return result, trainingErrorf("train", "sample %d has %d values, model expects %d", i, len(w), net.InSize())
		}
	}

	targets, err := enc.Targets(arch.Outputs)
	if err != nil {
		return result, err
	}
	split, err := StratifiedSplit(waveforms, targets, opts.ValidationSplit, opts.Seed)
	if err != nil {
		return result, err
	}

	logger.InfoContext(ctx, "training started",
		slog.String("runID", run.ID),
		slog.Bool("fromScratch", fromScratch),
		slog.Int("train", len(split.TrainX)),
		slog.Int("validation", len(split.ValidX)),
		slog.Any("vocabulary", []string(enc.Vocabulary)),
		slog.Int("parameters", net.ParamCount()),
	)

	f := &fitter{
		net:   net,
		opts:  opts,
		loss:  nn.CategoricalCrossEntropy{},
		adam:  nn.NewAdam(),
		split: split,
	}
	f.adam.LearningRate = opts.LearningRate

	shuffle := rand.New(rand.NewSource(opts.Seed))
	bestLoss := math.Inf(1)
	bestAcc := math.Inf(-1)
	wait := 0

	for epoch := 1; epoch <= opts.MaxEpochs; epoch++ {
		epochCtx, epochSpan := tracing.StartSpan(ctx, "speech.epoch", attribute.Int(tracing.AttrEpoch, epoch))

		m, err := f.epoch(epochCtx, epoch, shuffle.Perm(len(split.TrainX)))
		if err != nil {
			tracing.End(epochSpan, err)
			return result, NewError(KindTraining, "train", err)
		}
		result.Epochs = epoch

		if m.ValAccuracy > bestAcc {
			bestAcc = m.ValAccuracy
			cp := NewCheckpoint(net, arch, enc.Vocabulary)
			cp.RunID = run.ID
			cp.Epoch = epoch
			cp.ValAccuracy = m.ValAccuracy
			cp.ValLoss = m.ValLoss
			if err := SaveCheckpoint(s.CheckpointPath, cp); err != nil {
				tracing.End(epochSpan, err)
				return result, NewError(KindTraining, "save checkpoint", err)
			}
			m.Saved = true
			result.Checkpoints++
			result.BestValAccuracy = m.ValAccuracy
		}

		if m.ValLoss < bestLoss-opts.MinDelta {
			bestLoss = m.ValLoss
			wait = 0
		} else {
			wait++
		}
		result.BestValLoss = bestLoss

		logger.InfoContext(ctx, "epoch finished",
			slog.String("runID", run.ID),
			slog.Int("epoch", epoch),
			slog.Float64("loss", m.Loss),
			slog.Float64("accuracy", m.Accuracy),
			slog.Float64("valLoss", m.ValLoss),
			slog.Float64("valAccuracy", m.ValAccuracy),
			slog.Bool("saved", m.Saved),
		)
		if s.OnEpoch != nil {
			s.OnEpoch(run.ID, m)
		}
		tracing.End(epochSpan, nil)

		if wait >= opts.Patience {
			result.StoppedEarly = true
			logger.InfoContext(ctx, "early stopping",
				slog.String("runID", run.ID),
				slog.Int("epoch", epoch),
				slog.Float64("bestValLoss", bestLoss),
			)
			break
		}
	}

	return result, nil
}

func (s *TrainingSession) initModel(ctx context.Context, vocab Vocabulary, fromScratch bool, seed int64) (*nn.Network, Architecture, error) {
	logger := utils.GetLogger()

	if !fromScratch {
		cp, err := LoadCheckpoint(s.CheckpointPath)
		switch {
		case err == nil:
			if !cp.Vocabulary.Equal(vocab) {
				return nil, Architecture{}, trainingErrorf("resume training",
					"checkpoint vocabulary %v does not match dataset vocabulary %v", []string(cp.Vocabulary), []string(vocab))
			}
			net, err := cp.Network()
			if err != nil {
				return nil, Architecture{}, NewError(KindTraining, "resume training", err)
			}
			logger.InfoContext(ctx, "model loaded", slog.String("checkpoint", s.CheckpointPath), slog.Int("epoch", cp.Epoch))
			return net, cp.Architecture, nil
		case !errors.Is(err, ErrNoCheckpoint):
			return nil, Architecture{}, NewError(KindTraining, "resume training", err)
		}
	}

	arch := DefaultArchitecture(len(vocab))
	net, err := arch.Build(rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, Architecture{}, NewError(KindTraining, "create model", err)
	}
	logger.InfoContext(ctx, "model created", slog.Int("outputs", arch.Outputs))
	return net, arch, nil
}

// fitter runs epochs over one split.
type fitter struct {
	net   *nn.Network
	opts  TrainOptions
	loss  nn.Loss
	adam  *nn.Adam
	split Split

	workerGrads []nn.Gradients
}

type partial struct {
	loss    float64
	correct int
}

func (f *fitter) epoch(ctx context.Context, epoch int, order []int) (EpochMetrics, error) {
	params := f.net.Params()
	grads := f.net.NewGradients()

	var total partial
	for start := 0; start < len(order); start += f.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return EpochMetrics{}, err
		}
		batch := order[start:min(start+f.opts.BatchSize, len(order))]

		grads.Zero()
		p, err := f.batchGradients(ctx, epoch, batch, grads)
		if err != nil {
			return EpochMetrics{}, err
		}
		grads.Scale(1 / float64(len(batch)))
		f.adam.Step(params, grads)

		total.loss += p.loss
		total.correct += p.correct
	}

	valLoss, valAcc, err := f.evaluate(ctx)
	if err != nil {
		return EpochMetrics{}, err
	}

	n := float64(len(order))
	return EpochMetrics{
		Epoch:       epoch,
		Loss:        total.loss / n,
		Accuracy:    float64(total.correct) / n,
		ValLoss:     valLoss,
		ValAccuracy: valAcc,
	}, nil
}

// batchGradients spreads the batch over the worker pool. Each worker owns a
// gradient buffer; buffers are summed into grads in worker order.
func (f *fitter) batchGradients(ctx context.Context, epoch int, batch []int, grads nn.Gradients) (partial, error) {
	workers := min(f.opts.Workers, len(batch))
	for len(f.workerGrads) < workers {
		f.workerGrads = append(f.workerGrads, f.net.NewGradients())
	}
	results := make([]partial, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			buf := f.workerGrads[w]
			buf.Zero()
			for i := w; i < len(batch); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				row := batch[i]
				mode := nn.Mode{Training: true, Rand: rand.New(rand.NewSource(sampleSeed(f.opts.Seed, epoch, row)))}
				target := f.split.TrainY[row]
				loss, out, err := f.net.Backprop(f.split.TrainX[row], target, f.loss, mode, buf)
				if err != nil {
					return err
				}
				results[w].loss += loss
				if nn.Argmax(out) == nn.Argmax(target) {
					results[w].correct++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return partial{}, err
	}

	var sum partial
	for w := 0; w < workers; w++ {
		grads.Add(f.workerGrads[w])
		sum.loss += results[w].loss
		sum.correct += results[w].correct
	}
	return sum, nil
}

func (f *fitter) evaluate(ctx context.Context) (float64, float64, error) {
	n := len(f.split.ValidX)
	if n == 0 {
		return 0, 0, errors.New("empty validation set")
	}

	workers := min(f.opts.Workers, n)
	results := make([]partial, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < n; i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := f.net.Predict(f.split.ValidX[i])
				if err != nil {
					return err
				}
				target := f.split.ValidY[i]
				loss, _ := f.loss.Evaluate(out, target)
				results[w].loss += loss
				if nn.Argmax(out) == nn.Argmax(target) {
					results[w].correct++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	var sum partial
	for _, r := range results {
		sum.loss += r.loss
		sum.correct += r.correct
	}
	return sum.loss / float64(n), float64(sum.correct) / float64(n), nil
}

func sampleSeed(seed int64, epoch, row int) int64 {
	return seed*1_000_003 + int64(epoch)*7_919_017 + int64(row)
}
