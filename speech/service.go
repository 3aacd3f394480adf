package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Service serialises training and prediction. Both touch the checkpoint file
// and the single uploaded clip, so only one operation runs at a time.
type Service struct {
	session    *TrainingSession
	inference  *InferenceContext
	uploadPath string

	mu sync.Mutex
}

// NewService wires a training session and inference engine sharing one
// checkpoint. uploadPath is the scratch file overwritten by every upload.
func NewService(session *TrainingSession, inference *InferenceContext, uploadPath string) *Service {
	return &Service{session: session, inference: inference, uploadPath: uploadPath}
}

// Train runs one training session.
func (s *Service) Train(ctx context.Context, fromScratch bool) (TrainResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Train(ctx, fromScratch)
}

// SaveUpload replaces the scratch clip with r.
func (s *Service) SaveUpload(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.uploadPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create upload directory: %w", err)
		}
	}

	tempPath := s.uploadPath + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist upload: %w", err)
	}
	if err := os.Rename(tempPath, s.uploadPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename upload: %w", err)
	}
	return nil
}

// PredictUpload classifies the most recently uploaded clip.
func (s *Service) PredictUpload(ctx context.Context) (Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inference.PredictFile(ctx, s.uploadPath)
}

// Predict classifies an in-memory clip.
func (s *Service) Predict(ctx context.Context, samples []float64, sampleRate int) (Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inference.Predict(ctx, samples, sampleRate)
}

// Inference exposes the engine for read-only queries such as ModelInfo.
func (s *Service) Inference() *InferenceContext { return s.inference }
