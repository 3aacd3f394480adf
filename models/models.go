package models

import (
	"time"
)

// RecordData is the socket.io newRecording payload: a base64 WAV clip
// captured in the browser.
type RecordData struct {
	Audio      string  `json:"audio"`
	Duration   float64 `json:"duration"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	SampleSize int     `json:"sampleSize"`
}

// Prediction represents a stored inference result.
type Prediction struct {
	ID            int64              `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Source        string             `json:"source"`
	Filename      string             `json:"filename,omitempty"`
	LatencyMs     float64            `json:"latencyMs"`
	RunID         string             `json:"runId,omitempty"`
}

// Training run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// TrainingRun is one invocation of the training controller.
type TrainingRun struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	FromScratch     bool       `json:"fromScratch"`
	Epochs          int        `json:"epochs"`
	BestValAccuracy float64    `json:"bestValAccuracy"`
	Samples         int        `json:"samples"`
	Classes         int        `json:"classes"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
}

// ModelInfo summarises the current checkpoint for the API and socket clients.
type ModelInfo struct {
	Trained      bool      `json:"trained"`
	RunID        string    `json:"runId,omitempty"`
	Vocabulary   []string  `json:"vocabulary"`
	Epoch        int       `json:"epoch"`
	ValAccuracy  float64   `json:"valAccuracy"`
	ValLoss      float64   `json:"valLoss"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	Parameters   int       `json:"parameters"`
	InputLength  int       `json:"inputLength"`
	Architecture any       `json:"architecture,omitempty"`
}

// EpochProgress is broadcast to socket clients while training.
type EpochProgress struct {
	RunID       string  `json:"runId"`
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"valLoss"`
	ValAccuracy float64 `json:"valAccuracy"`
	Saved       bool    `json:"saved"`
}
