package speech

import (
	"math"
	"math/rand"
	"sort"

	"speech-commands/nn"
)

// Split is a stratified train/validation partition. TrainIndex and
// ValidIndex give the source row of every partition row.
type Split struct {
	TrainX, ValidX         [][]float64
	TrainY, ValidY         [][]float64
	TrainIndex, ValidIndex []int
}

// StratifiedSplit shuffles rows with seed and moves round(n*testSize) members
// of each class (at least one, never all) to validation. The class of a row
// is the argmax of its one-hot label. Every class needs at least two members.
func StratifiedSplit(x, y [][]float64, testSize float64, seed int64) (Split, error) {
	const op = "split dataset"
	if len(x) == 0 {
		return Split{}, trainingErrorf(op, "no samples to split")
	}
	if len(x) != len(y) {
		return Split{}, trainingErrorf(op, "%d waveforms but %d labels", len(x), len(y))
	}
	if testSize <= 0 || testSize >= 1 {
		return Split{}, trainingErrorf(op, "validation fraction %.3f outside (0, 1)", testSize)
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(x))

	byClass := make(map[int][]int)
	for _, row := range perm {
		class := nn.Argmax(y[row])
		byClass[class] = append(byClass[class], row)
	}

	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	valid := make(map[int]bool)
	for _, class := range classes {
		members := byClass[class]
		if len(members) < 2 {
			return Split{}, trainingErrorf(op, "class %d has %d member(s), need at least 2 for a stratified split", class, len(members))
		}
		n := int(math.Round(float64(len(members)) * testSize))
		n = max(1, min(n, len(members)-1))
		for _, row := range members[:n] {
			valid[row] = true
		}
	}

	var split Split
	for _, row := range perm {
		if valid[row] {
			split.ValidX = append(split.ValidX, x[row])
			split.ValidY = append(split.ValidY, y[row])
			split.ValidIndex = append(split.ValidIndex, row)
		} else {
			split.TrainX = append(split.TrainX, x[row])
			split.TrainY = append(split.TrainY, y[row])
			split.TrainIndex = append(split.TrainIndex, row)
		}
	}
	return split, nil
}
