package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"speech-commands/speech"
	"speech-commands/utils"
	"speech-commands/wav"

	"github.com/spf13/cobra"
)

// Cuts long background recordings into clip-sized files so they can be
// trained on as an extra class.
func main() {
	var noiseDir, dataDir, label string
	var maxPerFile int

	cmd := &cobra.Command{
		Use:          "add_noise_samples",
		Short:        "Slice background noise recordings into training clips",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noiseDir == "" {
				return fmt.Errorf("--noise-dir is required")
			}
			return addNoise(noiseDir, filepath.Join(dataDir, label), maxPerFile)
		},
	}
	cmd.Flags().StringVar(&noiseDir, "noise-dir", "", "Directory containing long noise WAV files")
	cmd.Flags().StringVar(&dataDir, "data-dir", utils.GetEnv("DATA_DIR", "data"), "Dataset root")
	cmd.Flags().StringVar(&label, "label", "silence", "Class name for the generated clips")
	cmd.Flags().IntVar(&maxPerFile, "max-per-file", 0, "Limit clips cut from one recording (0 = no limit)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addNoise(noiseDir, outDir string, maxPerFile int) error {
	files, err := collectWAVFiles(noiseDir)
	if err != nil {
		return fmt.Errorf("failed to list directory: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no WAV files found in %s", noiseDir)
	}
	if err := utils.CreateFolder(outDir); err != nil {
		return err
	}

	log.Printf("Found %d noise WAV files in %s\n", len(files), noiseDir)
	total := 0
	for _, filePath := range files {
		samples, err := wav.LoadFile(filePath, speech.SampleRate)
		if err != nil {
			log.Printf("  ERROR %s: %v", filepath.Base(filePath), err)
			continue
		}

		// One-second windows, the length of a speech command clip.
		clips := sliceClips(samples, speech.SampleRate, maxPerFile)
		stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
		for i, clip := range clips {
			target := filepath.Join(outDir, fmt.Sprintf("%s_%04d.wav", stem, i))
			if err := wav.WriteFile(target, clip, speech.SampleRate); err != nil {
				return fmt.Errorf("failed to write %s: %w", target, err)
			}
		}
		total += len(clips)
		log.Printf("  ✓ %s: %d clips", filepath.Base(filePath), len(clips))
	}

	if total == 0 {
		return fmt.Errorf("no noise clips were created")
	}
	log.Printf("✓ Wrote %d clips to %s", total, outDir)
	return nil
}

// sliceClips splits samples into consecutive non-overlapping windows of size
// values, dropping the trailing remainder.
func sliceClips(samples []float64, size, limit int) [][]float64 {
	var clips [][]float64
	for start := 0; start+size <= len(samples); start += size {
		if limit > 0 && len(clips) == limit {
			break
		}
		clips = append(clips, samples[start:start+size])
	}
	return clips
}

func collectWAVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
