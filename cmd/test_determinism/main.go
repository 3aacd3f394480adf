package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"

	"speech-commands/speech"
	"speech-commands/utils"

	"github.com/spf13/cobra"
)

// Checks that repeated predictions on the same clip are identical.
func main() {
	var checkpoint string
	var runs int

	cmd := &cobra.Command{
		Use:          "test_determinism <clip.wav>",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context(), checkpoint, args[0], runs)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint",
		utils.GetEnv("CHECKPOINT_PATH", filepath.Join("models", "best_model.msgpack")), "Path to the trained checkpoint")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of predictions to compare")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func check(ctx context.Context, checkpoint, clip string, runs int) error {
	if runs < 1 {
		return fmt.Errorf("--runs must be at least 1, got %d", runs)
	}
	log.Printf("Testing determinism with: %s\n", clip)

	inference := speech.NewInferenceContext(checkpoint, nil)
	var results []speech.Prediction
	for i := 0; i < runs; i++ {
		pred, err := inference.PredictFile(ctx, clip)
		if err != nil {
			return fmt.Errorf("run %d failed: %w", i+1, err)
		}
		results = append(results, pred)
		log.Printf("Run %d: %s (%.10f)", i+1, pred.Label, pred.Confidence)
	}

	labels := make([]string, 0, len(results[0].Probabilities))
	for label := range results[0].Probabilities {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	maxDiff := 0.0
	for i := 1; i < len(results); i++ {
		if results[i].Label != results[0].Label {
			fmt.Printf("❌ Run %d predicted %q, run 1 predicted %q\n", i+1, results[i].Label, results[0].Label)
		}
		for _, label := range labels {
			maxDiff = math.Max(maxDiff, math.Abs(results[i].Probabilities[label]-results[0].Probabilities[label]))
		}
	}

	if maxDiff == 0 {
		fmt.Println("✅ All runs produced IDENTICAL probabilities (deterministic)")
		return nil
	}
	return fmt.Errorf("inference is non-deterministic (max diff: %e)", maxDiff)
}
