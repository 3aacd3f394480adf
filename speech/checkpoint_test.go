package speech

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	arch := DefaultArchitecture(2)
	net, err := arch.Build(rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	cp := NewCheckpoint(net, arch, Vocabulary{"no", "yes"})
	cp.RunID = "run-1"
	cp.Epoch = 3
	cp.ValAccuracy = 0.75

	path := filepath.Join(t.TempDir(), "models", "best_model.msgpack")
	require.NoError(t, SaveCheckpoint(path, cp))
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	loaded, err := LoadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, Vocabulary{"no", "yes"}, loaded.Vocabulary)
	require.True(t, arch.Equal(loaded.Architecture))
	require.Equal(t, 3, loaded.Epoch)
	require.Equal(t, "run-1", loaded.RunID)

	restored, err := loaded.Network()
	require.NoError(t, err)

	x := tone(330, AudioSize, 8000, 0, nil)
	want, err := net.Predict(x)
	require.NoError(t, err)
	got, err := restored.Predict(x)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, ErrNoCheckpoint)
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadCheckpointCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best_model.msgpack")
	require.NoError(t, os.WriteFile(path, []byte{0xc1, 0x00, 0x01}, 0o644))

	_, err := LoadCheckpoint(path)
	require.ErrorIs(t, err, ErrConfig)
}

func TestCheckpointNetworkRejectsMismatch(t *testing.T) {
	arch := DefaultArchitecture(2)
	net, err := arch.Build(nil)
	require.NoError(t, err)

	cp := NewCheckpoint(net, arch, Vocabulary{"no", "yes", "up"})
	_, err = cp.Network()
	require.ErrorIs(t, err, ErrConfig)

	cp = NewCheckpoint(net, arch, Vocabulary{"no", "yes"})
	cp.Params = cp.Params[:3]
	_, err = cp.Network()
	require.ErrorIs(t, err, ErrConfig)

	cp = NewCheckpoint(net, arch, Vocabulary{"no", "yes"})
	cp.Version = 99
	_, err = cp.Network()
	require.ErrorIs(t, err, ErrConfig)
}
