// Package predictions keeps an append-only JSON log of served predictions.
package predictions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"speech-commands/models"
	"speech-commands/utils"
)

// Store is a JSON-file prediction log guarded by an RWMutex.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore returns a log stored at path. The file is created on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads all predictions from the JSON file (without lock)
func (s *Store) load() ([]models.Prediction, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []models.Prediction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading predictions file: %w", err)
	}
	if len(data) == 0 {
		return []models.Prediction{}, nil
	}

	var predictions []models.Prediction
	if err := json.Unmarshal(data, &predictions); err != nil {
		return nil, fmt.Errorf("error unmarshaling predictions: %w", err)
	}
	return predictions, nil
}

// List returns every stored prediction, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	predictions, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Timestamp.After(predictions[j].Timestamp)
	})
	if limit > 0 && len(predictions) > limit {
		predictions = predictions[:limit]
	}
	return predictions, nil
}

// Save appends p, assigning an ID and timestamp when unset.
func (s *Store) Save(p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	predictions, err := s.load()
	if err != nil {
		return err
	}

	if p.ID == 0 {
		p.ID = utils.GenerateUniqueID()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	predictions = append(predictions, *p)

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(predictions, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling predictions: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing predictions file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("error writing predictions file: %w", err)
	}
	return nil
}
