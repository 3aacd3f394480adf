package speech

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func labelledRows(counts []int) ([][]float64, [][]float64) {
	var x, y [][]float64
	for class, n := range counts {
		for i := 0; i < n; i++ {
			x = append(x, []float64{float64(len(x))})
			row := make([]float64, len(counts))
			row[class] = 1
			y = append(y, row)
		}
	}
	return x, y
}

func TestStratifiedSplitPreservesClassRatios(t *testing.T) {
	counts := []int{20, 20, 37, 9}
	x, y := labelledRows(counts)

	split, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.NoError(t, err)

	validPerClass := make([]int, len(counts))
	for _, row := range split.ValidY {
		for c, v := range row {
			if v == 1 {
				validPerClass[c]++
			}
		}
	}
	for c, n := range counts {
		ratio := float64(validPerClass[c]) / float64(n)
		require.LessOrEqual(t, math.Abs(ratio-0.2), 0.5/float64(n)+1e-9, "class %d ratio %.3f", c, ratio)
	}
	require.Equal(t, 4, validPerClass[0])
	require.Equal(t, 4, validPerClass[1])
}

func TestStratifiedSplitReconstructsInput(t *testing.T) {
	x, y := labelledRows([]int{10, 15, 5})

	split, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.NoError(t, err)
	require.Len(t, split.TrainX, len(split.TrainY))
	require.Len(t, split.ValidX, len(split.ValidY))

	var seen []int
	for i, row := range append(append([][]float64{}, split.TrainX...), split.ValidX...) {
		seen = append(seen, int(row[0]))
		var idx int
		if i < len(split.TrainX) {
			idx = split.TrainIndex[i]
		} else {
			idx = split.ValidIndex[i-len(split.TrainX)]
		}
		require.Equal(t, float64(idx), row[0])
	}
	sort.Ints(seen)
	for i, v := range seen {
		require.Equal(t, i, v, "row %d missing or duplicated", i)
	}
}

func TestStratifiedSplitIsReproducible(t *testing.T) {
	x, y := labelledRows([]int{12, 12})

	a, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.NoError(t, err)
	b, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.NoError(t, err)
	require.Equal(t, a.TrainIndex, b.TrainIndex)
	require.Equal(t, a.ValidIndex, b.ValidIndex)

	c, err := StratifiedSplit(x, y, 0.2, 1)
	require.NoError(t, err)
	require.NotEqual(t, a.TrainIndex, c.TrainIndex)
}

func TestStratifiedSplitRejectsBadInput(t *testing.T) {
	x, y := labelledRows([]int{5, 1})
	_, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.ErrorIs(t, err, ErrTraining)

	x, y = labelledRows([]int{5, 5})
	_, err = StratifiedSplit(x, y[:3], 0.2, DefaultSeed)
	require.ErrorIs(t, err, ErrTraining)

	_, err = StratifiedSplit(x, y, 1.5, DefaultSeed)
	require.ErrorIs(t, err, ErrTraining)

	_, err = StratifiedSplit(nil, nil, 0.2, DefaultSeed)
	require.ErrorIs(t, err, ErrTraining)
}

func TestStratifiedSplitSmallClassKeepsBothSides(t *testing.T) {
	x, y := labelledRows([]int{2, 3})
	split, err := StratifiedSplit(x, y, 0.2, DefaultSeed)
	require.NoError(t, err)
	require.Len(t, split.ValidX, 2)
	require.Len(t, split.TrainX, 3)
}
