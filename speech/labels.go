package speech

import (
	"fmt"
	"slices"
	"sort"
)

// Vocabulary is the ordered class list of a trained model. Output index i of
// the network maps to Vocabulary[i].
type Vocabulary []string

// Index returns the position of label, or -1.
func (v Vocabulary) Index(label string) int {
	return slices.Index(v, label)
}

// Label maps a network output index back to its class name.
func (v Vocabulary) Label(index int) (string, error) {
	if index < 0 || index >= len(v) {
		return "", configErrorf("map label", "output index %d outside vocabulary of %d classes", index, len(v))
	}
	return v[index], nil
}

// Equal reports whether both vocabularies hold the same labels in the same order.
func (v Vocabulary) Equal(other Vocabulary) bool {
	return slices.Equal(v, other)
}

// Encoding is the result of EncodeLabels.
type Encoding struct {
	// Indices holds the class index of every sample.
	Indices []int
	// OneHot rows are len(DefaultClasses) wide with a single 1.
	OneHot [][]float64
	// Vocabulary is the sorted set of distinct labels.
	Vocabulary Vocabulary
}

// EncodeLabels assigns consecutive indices to the sorted distinct labels and
// one-hot encodes every sample.
func EncodeLabels(labels []string) (Encoding, error) {
	if len(labels) == 0 {
		return Encoding{}, trainingErrorf("encode labels", "no labelled samples")
	}

	seen := make(map[string]struct{}, len(labels))
	var vocab Vocabulary
	for _, label := range labels {
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		vocab = append(vocab, label)
	}
	sort.Strings(vocab)

	width := len(DefaultClasses)
	if len(vocab) > width {
		return Encoding{}, trainingErrorf("encode labels", "%d distinct labels exceed the %d supported classes", len(vocab), width)
	}

	index := make(map[string]int, len(vocab))
	for i, label := range vocab {
		index[label] = i
	}

	enc := Encoding{
		Indices:    make([]int, len(labels)),
		OneHot:     make([][]float64, len(labels)),
		Vocabulary: vocab,
	}
	for i, label := range labels {
		idx := index[label]
		row := make([]float64, width)
		row[idx] = 1
		enc.Indices[i] = idx
		enc.OneHot[i] = row
	}
	return enc, nil
}

// Targets returns the one-hot rows truncated to width columns, the output
// width of the model being trained. Columns past the vocabulary are always
// zero so nothing is lost.
func (e Encoding) Targets(width int) ([][]float64, error) {
	if width < len(e.Vocabulary) {
		return nil, trainingErrorf("encode labels", "model outputs %d classes but data has %d", width, len(e.Vocabulary))
	}
	out := make([][]float64, len(e.OneHot))
	for i, row := range e.OneHot {
		target := make([]float64, width)
		copy(target, row)
		out[i] = target
	}
	return out, nil
}

func (e Encoding) String() string {
	return fmt.Sprintf("%d samples over %v", len(e.Indices), []string(e.Vocabulary))
}
