package speech

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeLabelsSortsVocabulary(t *testing.T) {
	labels := []string{"yes", "no", "up", "no", "yes", "yes"}

	enc, err := EncodeLabels(labels)
	require.NoError(t, err)
	require.Equal(t, Vocabulary{"no", "up", "yes"}, enc.Vocabulary)
	require.True(t, sort.StringsAreSorted(enc.Vocabulary))
	require.Equal(t, []int{2, 0, 1, 0, 2, 2}, enc.Indices)

	for i, row := range enc.OneHot {
		require.Len(t, row, len(DefaultClasses))
		ones := 0
		for j, v := range row {
			if v == 1 {
				ones++
				require.Equal(t, enc.Indices[i], j)
			} else {
				require.Zero(t, v)
			}
		}
		require.Equal(t, 1, ones)
	}
}

func TestEncodingTargetsTruncateToModelWidth(t *testing.T) {
	enc, err := EncodeLabels([]string{"yes", "no"})
	require.NoError(t, err)

	targets, err := enc.Targets(2)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0, 1}, {1, 0}}, targets)

	_, err = enc.Targets(1)
	require.ErrorIs(t, err, ErrTraining)
}

func TestEncodeLabelsRejectsTooManyClasses(t *testing.T) {
	var labels []string
	for i := 0; i <= len(DefaultClasses); i++ {
		labels = append(labels, fmt.Sprintf("word%02d", i))
	}
	_, err := EncodeLabels(labels)
	require.ErrorIs(t, err, ErrTraining)

	_, err = EncodeLabels(nil)
	require.ErrorIs(t, err, ErrTraining)
}

func TestVocabularyLookups(t *testing.T) {
	v := Vocabulary{"no", "yes"}
	require.Equal(t, 1, v.Index("yes"))
	require.Equal(t, -1, v.Index("maybe"))

	label, err := v.Label(0)
	require.NoError(t, err)
	require.Equal(t, "no", label)

	_, err = v.Label(2)
	require.ErrorIs(t, err, ErrConfig)

	require.True(t, v.Equal(Vocabulary{"no", "yes"}))
	require.False(t, v.Equal(Vocabulary{"yes", "no"}))
	require.True(t, sort.StringsAreSorted(DefaultClasses))
	require.Len(t, DefaultClasses, 30)
}
