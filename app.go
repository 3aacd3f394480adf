package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"speech-commands/cache"
	"speech-commands/config"
	"speech-commands/dataset"
	"speech-commands/db"
	"speech-commands/models"
	"speech-commands/predictions"
	"speech-commands/speech"
	"speech-commands/utils"

	"github.com/mdobak/go-xerrors"
)

// application bundles the long-lived dependencies shared by the HTTP and
// socket.io handlers.
type application struct {
	cfg         config.Config
	service     *speech.Service
	runs        *db.SQLiteClient
	predictions *predictions.Store
	downloader  *dataset.Downloader
	cache       *cache.Store

	// progress, when set, receives every finished training epoch.
	progress func(models.EpochProgress)
}

func newApplication(ctx context.Context, cfg config.Config) (*application, error) {
	logger := utils.GetLogger()

	runs, err := db.NewSQLiteClient(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app := &application{
		cfg:         cfg,
		runs:        runs,
		predictions: predictions.NewStore(cfg.Paths.PredictionsLog),
	}

	var waveCache speech.WaveformCache
	if cfg.Cache {
		store, err := cache.Open(cache.Options{Dir: cfg.Paths.CacheDir})
		if err != nil {
			// Training still works without the cache, only slower.
			logger.WarnContext(ctx, "waveform cache disabled", slog.Any("error", xerrors.New(err)))
		} else {
			app.cache = store
			waveCache = store
		}
	}
	pre := speech.NewClipPreprocessor(waveCache)

	session := &speech.TrainingSession{
		DataDir:        cfg.Paths.DataDir,
		CheckpointPath: cfg.Paths.Checkpoint,
		Preprocessor:   pre,
		Recorder:       runs,
		Options:        cfg.Training.Options(),
		OnEpoch:        app.onEpoch,
	}
	inference := speech.NewInferenceContext(cfg.Paths.Checkpoint, pre)
	app.service = speech.NewService(session, inference, cfg.Paths.Upload)

	store, err := objectStore(ctx, cfg.Storage)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to configure dataset storage: %w", err)
	}
	app.downloader = &dataset.Downloader{Catalog: runs, Store: store}
	return app, nil
}

// objectStore picks the dataset source: a local mirror, GCS or S3.
func objectStore(ctx context.Context, s config.Storage) (dataset.ObjectStore, error) {
	if s.MirrorDir != "" {
		return dataset.NewLocal(s.MirrorDir), nil
	}
	switch s.Backend {
	case config.BackendGCS:
		svc, err := dataset.NewGCSService(ctx, dataset.GCSConfig{
			Bucket:          s.Bucket,
			Project:         s.Project,
			Location:        s.Location,
			CredentialsFile: s.CredentialsFile,
			Endpoint:        s.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return dataset.NewGCS(svc, s.Bucket, s.Project, s.Location), nil
	case config.BackendS3, "":
		client := dataset.NewS3Client(dataset.S3Config{
			Bucket:          s.Bucket,
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			UsePathStyle:    s.UsePathStyle,
		})
		return dataset.NewS3(client, s.Bucket, s.Region), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

func (app *application) onEpoch(runID string, m speech.EpochMetrics) {
	if app.progress == nil {
		return
	}
	app.progress(models.EpochProgress{
		RunID:       runID,
		Epoch:       m.Epoch,
		Loss:        m.Loss,
		Accuracy:    m.Accuracy,
		ValLoss:     m.ValLoss,
		ValAccuracy: m.ValAccuracy,
		Saved:       m.Saved,
	})
}

// recordPrediction appends pred to the prediction log. Failures are logged only.
func (app *application) recordPrediction(ctx context.Context, pred speech.Prediction, source, filename string, started time.Time) models.Prediction {
	entry := models.Prediction{
		Label:         pred.Label,
		Confidence:    pred.Confidence,
		Probabilities: pred.Probabilities,
		Source:        source,
		Filename:      filename,
		LatencyMs:     float64(time.Since(started).Microseconds()) / 1000,
		RunID:         pred.RunID,
	}
	if err := app.predictions.Save(&entry); err != nil {
		logger := utils.GetLogger()
		logger.ErrorContext(ctx, "failed to save prediction", slog.Any("error", xerrors.New(err)))
	}
	return entry
}

func (app *application) close() error {
	var errs []error
	if app.cache != nil {
		errs = append(errs, app.cache.Close())
	}
	if app.runs != nil {
		errs = append(errs, app.runs.Close())
	}
	return errors.Join(errs...)
}
