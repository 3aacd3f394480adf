package speech

import (
	"math/rand"
	"testing"

	"speech-commands/nn"

	"github.com/stretchr/testify/require"
)

func TestDefaultArchitectureTopology(t *testing.T) {
	arch := DefaultArchitecture(2)
	net, err := arch.Build(rand.New(rand.NewSource(DefaultSeed)))
	require.NoError(t, err)

	var kinds []string
	for _, layer := range net.Layers {
		kinds = append(kinds, layer.Kind())
	}
	require.Equal(t, []string{
		"conv1d", "maxpool1d", "dropout",
		"conv1d", "maxpool1d", "dropout",
		"conv1d", "maxpool1d", "dropout",
		"conv1d", "maxpool1d", "dropout",
		"flatten",
		"dense", "dropout",
		"dense", "dropout",
		"dense",
	}, kinds)

	wantConv := []struct{ out, kernel, filters int }{
		{7988, 13, 8}, {2652, 11, 16}, {876, 9, 32}, {286, 7, 64},
	}
	for i, want := range wantConv {
		conv := net.Layers[i*3].(*nn.Conv1D)
		require.Equal(t, want.out, conv.OutLength(), "conv block %d", i+1)
		require.Equal(t, want.kernel, conv.KernelSize)
		require.Equal(t, want.filters, conv.Filters)
		require.Equal(t, 0.3, net.Layers[i*3+2].(*nn.Dropout).Rate)
	}

	require.Equal(t, 95*64, net.Layers[12].OutSize())
	require.Equal(t, 256, net.Layers[13].OutSize())
	require.Equal(t, 128, net.Layers[15].OutSize())
	require.Equal(t, AudioSize, net.InSize())
	require.Equal(t, 2, net.OutSize())

	// 112 + 1424 + 4640 + 14400 + 1556736 + 32896 + 258
	require.Equal(t, 1610466, net.ParamCount())
}

func TestArchitectureBuildWithoutRandIsZeroed(t *testing.T) {
	net, err := DefaultArchitecture(3).Build(nil)
	require.NoError(t, err)
	for _, p := range net.Params() {
		for _, v := range p.Value {
			require.Zero(t, v)
		}
	}
}

func TestArchitectureEqualAndValidation(t *testing.T) {
	a := DefaultArchitecture(2)
	require.True(t, a.Equal(DefaultArchitecture(2)))
	require.False(t, a.Equal(DefaultArchitecture(3)))

	bad := DefaultArchitecture(2)
	bad.Kernels = bad.Kernels[:2]
	_, err := bad.Build(nil)
	require.Error(t, err)

	_, err = DefaultArchitecture(0).Build(nil)
	require.Error(t, err)
}
