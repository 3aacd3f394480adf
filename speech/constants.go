// Package speech implements the speech-command pipeline: clip preparation,
// label encoding, stratified splitting, the fixed 1D CNN, training with early
// stopping and best-checkpoint persistence, and single-clip inference.
package speech

const (
	// SampleRate is the rate every clip is decoded at before framing.
	SampleRate = 16000
	// AudioSize is the number of values in every prepared waveform.
	AudioSize = 8000

	// DefaultValidationSplit is the share of each class held out for validation.
	DefaultValidationSplit = 0.2
	// DefaultSeed drives the split shuffle, weight init and dropout masks.
	DefaultSeed = 777
)

// DefaultClasses are the known command words. Their count fixes the one-hot
// width produced by EncodeLabels.
var DefaultClasses = Vocabulary{
	"bed", "bird", "cat", "dog", "down", "eight", "five", "four", "go", "happy",
	"house", "left", "marvin", "nine", "no", "off", "on", "one", "right", "seven",
	"sheila", "six", "stop", "three", "tree", "two", "up", "wow", "yes", "zero",
}

// Sample is one prepared clip.
type Sample struct {
	Waveform []float64
	Label    string
	Source   string
}
