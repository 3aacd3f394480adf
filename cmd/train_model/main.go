package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speech-commands/cache"
	"speech-commands/config"
	"speech-commands/db"
	"speech-commands/speech"
	"speech-commands/tracing"
	"speech-commands/utils"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
)

// Flags holds the command line overrides.
type Flags struct {
	ConfigPath  string
	DataDir     string
	Checkpoint  string
	FromScratch bool
	Epochs      int
	BatchSize   int
	Workers     int
	NoCache     bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := Flags{}

	cmd := &cobra.Command{
		Use:          "train_model",
		Short:        "Train the speech command classifier on a folder of labelled clips",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return train(ctx, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", "", "optional YAML config file")
	cmd.Flags().StringVar(&flags.DataDir, "data-dir", "", "Directory with one sub-folder of clips per label")
	cmd.Flags().StringVar(&flags.Checkpoint, "checkpoint", "", "Checkpoint path to resume from and write to")
	cmd.Flags().BoolVar(&flags.FromScratch, "from-scratch", false, "Ignore any existing checkpoint")
	cmd.Flags().IntVar(&flags.Epochs, "epochs", 0, "Maximum number of epochs")
	cmd.Flags().IntVar(&flags.BatchSize, "batch-size", 0, "Mini-batch size")
	cmd.Flags().IntVar(&flags.Workers, "workers", 0, "Goroutines computing gradients")
	cmd.Flags().BoolVar(&flags.NoCache, "no-cache", false, "Disable the waveform cache")
	return cmd
}

func train(ctx context.Context, flags Flags) error {
	logger := utils.GetLogger()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.DataDir != "" {
		cfg.Paths.DataDir = flags.DataDir
	}
	if flags.Checkpoint != "" {
		cfg.Paths.Checkpoint = flags.Checkpoint
	}

	if err := tracing.Initialize(ctx, tracing.Config{ServiceName: "train_model", Exporter: cfg.Tracing}); err == nil {
		defer tracing.Shutdown(context.Background())
	}

	runs, err := db.NewSQLiteClient(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer runs.Close()

	var waveCache speech.WaveformCache
	if cfg.Cache && !flags.NoCache {
		store, err := cache.Open(cache.Options{Dir: cfg.Paths.CacheDir})
		if err != nil {
			logger.WarnContext(ctx, "waveform cache disabled", slog.Any("error", xerrors.New(err)))
		} else {
			defer store.Close()
			waveCache = store
		}
	}

	opts := trainOptions(cfg.Training, flags)

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Speech Command Training ===\n")
	log.Printf("Data: %s\n", cfg.Paths.DataDir)
	log.Printf("Checkpoint: %s (from scratch: %t)\n", cfg.Paths.Checkpoint, flags.FromScratch)
	log.Printf("Epochs: %d, batch size: %d, workers: %d\n", opts.MaxEpochs, opts.BatchSize, opts.Workers)

	session := &speech.TrainingSession{
		DataDir:        cfg.Paths.DataDir,
		CheckpointPath: cfg.Paths.Checkpoint,
		Preprocessor:   speech.NewClipPreprocessor(waveCache),
		Recorder:       runs,
		Options:        opts,
		OnEpoch: func(runID string, m speech.EpochMetrics) {
			marker := ""
			if m.Saved {
				marker = " *"
			}
			log.Printf("epoch %3d  loss %.4f  acc %.3f  val_loss %.4f  val_acc %.3f%s\n",
				m.Epoch, m.Loss, m.Accuracy, m.ValLoss, m.ValAccuracy, marker)
		},
	}

	started := time.Now()
	result, err := session.Train(ctx, flags.FromScratch)
	if err != nil {
		return err
	}

	log.Printf("Training finished in %s\n", time.Since(started).Round(time.Millisecond))
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// trainOptions applies the command line overrides on top of the config.
func trainOptions(t config.Training, flags Flags) speech.TrainOptions {
	if flags.Epochs > 0 {
		t.MaxEpochs = flags.Epochs
	}
	if flags.BatchSize > 0 {
		t.BatchSize = flags.BatchSize
	}
	if flags.Workers > 0 {
		t.Workers = flags.Workers
	}
	return t.Options()
}
