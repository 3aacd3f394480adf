package speech

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"speech-commands/nn"

	"github.com/vmihailenco/msgpack/v5"
)

const checkpointVersion = 1

// checkpointWrites counts successful SaveCheckpoint calls in this process.
var checkpointWrites atomic.Uint64

// Checkpoint is the persisted best model of a training run.
type Checkpoint struct {
	Version      int          `msgpack:"version"`
	RunID        string       `msgpack:"run_id"`
	Architecture Architecture `msgpack:"architecture"`
	Vocabulary   Vocabulary   `msgpack:"vocabulary"`
	Params       [][]float64  `msgpack:"params"`
	Epoch        int          `msgpack:"epoch"`
	ValAccuracy  float64      `msgpack:"val_accuracy"`
	ValLoss      float64      `msgpack:"val_loss"`
	CreatedAt    time.Time    `msgpack:"created_at"`
}

// NewCheckpoint snapshots the parameters of net.
func NewCheckpoint(net *nn.Network, arch Architecture, vocab Vocabulary) *Checkpoint {
	params := net.Params()
	values := make([][]float64, len(params))
	for i, p := range params {
		values[i] = append([]float64(nil), p.Value...)
	}
	return &Checkpoint{
		Version:      checkpointVersion,
		Architecture: arch,
		Vocabulary:   append(Vocabulary(nil), vocab...),
		Params:       values,
		CreatedAt:    time.Now().UTC(),
	}
}

// Network rebuilds the classifier and loads the stored weights.
func (c *Checkpoint) Network() (*nn.Network, error) {
	const op = "restore checkpoint"
	if c.Version != checkpointVersion {
		return nil, configErrorf(op, "unsupported checkpoint version %d", c.Version)
	}
	if c.Architecture.Outputs != len(c.Vocabulary) {
		return nil, configErrorf(op, "model outputs %d classes but vocabulary has %d", c.Architecture.Outputs, len(c.Vocabulary))
	}

	net, err := c.Architecture.Build(nil)
	if err != nil {
		return nil, NewError(KindConfig, op, err)
	}
	params := net.Params()
	if len(params) != len(c.Params) {
		return nil, configErrorf(op, "checkpoint has %d tensors, architecture needs %d", len(c.Params), len(params))
	}
	for i, p := range params {
		if len(p.Value) != len(c.Params[i]) {
			return nil, configErrorf(op, "tensor %d has %d values, architecture needs %d", i, len(c.Params[i]), len(p.Value))
		}
		copy(p.Value, c.Params[i])
	}
	return net, nil
}

// SaveCheckpoint writes cp to path via a temporary file and rename, so
// readers never observe a partial checkpoint.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp checkpoint: %w", err)
	}
	checkpointWrites.Add(1)
	return nil
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields
// ErrNoCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, NewError(KindConfig, "load checkpoint", err)
	}

	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, NewError(KindConfig, "load checkpoint", fmt.Errorf("decode %s: %w", path, err))
	}
	return &cp, nil
}
