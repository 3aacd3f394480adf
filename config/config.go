// Package config resolves service settings from defaults, an optional YAML
// file and the environment, in that order of precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"speech-commands/speech"
	"speech-commands/utils"

	"github.com/goccy/go-yaml"
)

type Server struct {
	Port         string `yaml:"port"`
	Protocol     string `yaml:"protocol"`
	CertFile     string `yaml:"cert_file"`
	CertKey      string `yaml:"cert_key"`
	SoftFailures bool   `yaml:"soft_failures"`
}

type Paths struct {
	DataDir        string `yaml:"data_dir"`
	Checkpoint     string `yaml:"checkpoint"`
	Upload         string `yaml:"upload"`
	Database       string `yaml:"database"`
	PredictionsLog string `yaml:"predictions_log"`
	CacheDir       string `yaml:"cache_dir"`
}

type Training struct {
	MaxEpochs int     `yaml:"max_epochs"`
	BatchSize int     `yaml:"batch_size"`
	Patience  int     `yaml:"patience"`
	MinDelta  float64 `yaml:"min_delta"`
	Workers   int     `yaml:"workers"`
}

// Options overlays the positive settings on speech.DefaultTrainOptions.
// A zero MinDelta is kept: it disables the improvement threshold.
func (t Training) Options() speech.TrainOptions {
	opts := speech.DefaultTrainOptions()
	if t.MaxEpochs > 0 {
		opts.MaxEpochs = t.MaxEpochs
	}
	if t.BatchSize > 0 {
		opts.BatchSize = t.BatchSize
	}
	if t.Patience > 0 {
		opts.Patience = t.Patience
	}
	if t.MinDelta >= 0 {
		opts.MinDelta = t.MinDelta
	}
	if t.Workers > 0 {
		opts.Workers = t.Workers
	}
	return opts
}

// Storage backends.
const (
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

type Storage struct {
	// MirrorDir serves the dataset from a local directory and wins over Backend.
	MirrorDir string `yaml:"mirror_dir"`
	Backend   string `yaml:"backend"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`

	// S3
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`

	// GCS
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	CredentialsFile string `yaml:"credentials_file"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Paths    Paths    `yaml:"paths"`
	Training Training `yaml:"training"`
	Storage  Storage  `yaml:"storage"`
	Cache    bool     `yaml:"cache"`
	Tracing  string   `yaml:"tracing"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: Server{
			Port:         "5000",
			Protocol:     "http",
			CertKey:      "/etc/letsencrypt/live/localport.online/privkey.pem",
			CertFile:     "/etc/letsencrypt/live/localport.online/fullchain.pem",
			SoftFailures: true,
		},
		Paths: Paths{
			DataDir:        "data",
			Checkpoint:     filepath.Join("models", "best_model.msgpack"),
			Upload:         filepath.Join("tmp", "predict.wav"),
			Database:       filepath.Join("db", "speech.sqlite3"),
			PredictionsLog: filepath.Join("db", "predictions.json"),
			CacheDir:       filepath.Join("tmp", "wavecache"),
		},
		Training: Training{
			MaxEpochs: 100,
			BatchSize: 32,
			Patience:  10,
			MinDelta:  1e-4,
		},
		Storage: Storage{
			Backend:  BackendS3,
			Bucket:   "speech-commands-dataset",
			Region:   "us-east-1",
			Location: "US",
		},
		Cache:   true,
		Tracing: "none",
	}
}

// Load applies the YAML file at path (skipped when path is empty) and then
// environment overrides on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = utils.GetEnv("PORT", cfg.Server.Port)
	cfg.Server.CertKey = utils.GetEnv("CERT_KEY", cfg.Server.CertKey)
	cfg.Server.CertFile = utils.GetEnv("CERT_FILE", cfg.Server.CertFile)
	cfg.Server.SoftFailures = utils.GetEnvBool("SOFT_FAILURES", cfg.Server.SoftFailures)

	cfg.Paths.DataDir = utils.GetEnv("DATA_DIR", cfg.Paths.DataDir)
	cfg.Paths.Checkpoint = utils.GetEnv("CHECKPOINT_PATH", cfg.Paths.Checkpoint)
	cfg.Paths.Upload = utils.GetEnv("UPLOAD_PATH", cfg.Paths.Upload)
	cfg.Paths.Database = utils.GetEnv("DB_PATH", cfg.Paths.Database)
	cfg.Paths.PredictionsLog = utils.GetEnv("PREDICTIONS_LOG", cfg.Paths.PredictionsLog)
	cfg.Paths.CacheDir = utils.GetEnv("CACHE_DIR", cfg.Paths.CacheDir)

	cfg.Training.MaxEpochs = utils.GetEnvInt("TRAIN_MAX_EPOCHS", cfg.Training.MaxEpochs)
	cfg.Training.BatchSize = utils.GetEnvInt("TRAIN_BATCH_SIZE", cfg.Training.BatchSize)
	cfg.Training.Patience = utils.GetEnvInt("TRAIN_PATIENCE", cfg.Training.Patience)
	cfg.Training.MinDelta = utils.GetEnvFloat("TRAIN_MIN_DELTA", cfg.Training.MinDelta)
	cfg.Training.Workers = utils.GetEnvInt("TRAIN_WORKERS", cfg.Training.Workers)

	cfg.Storage.MirrorDir = utils.GetEnv("DATASET_MIRROR_DIR", cfg.Storage.MirrorDir)
	cfg.Storage.Backend = utils.GetEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Bucket = utils.GetEnv("S3_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Region = utils.GetEnv("S3_REGION", cfg.Storage.Region)
	cfg.Storage.Endpoint = utils.GetEnv("S3_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.AccessKeyID = utils.GetEnv("AWS_ACCESS_KEY_ID", cfg.Storage.AccessKeyID)
	cfg.Storage.SecretAccessKey = utils.GetEnv("AWS_SECRET_ACCESS_KEY", cfg.Storage.SecretAccessKey)
	cfg.Storage.UsePathStyle = utils.GetEnvBool("S3_PATH_STYLE", cfg.Storage.UsePathStyle)
	cfg.Storage.Project = utils.GetEnv("GCP_PROJECT", cfg.Storage.Project)
	cfg.Storage.Location = utils.GetEnv("GCS_LOCATION", cfg.Storage.Location)
	cfg.Storage.CredentialsFile = utils.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Storage.CredentialsFile)

	cfg.Cache = utils.GetEnvBool("CACHE_ENABLED", cfg.Cache)
	cfg.Tracing = utils.GetEnv("TRACE_EXPORTER", cfg.Tracing)
}
