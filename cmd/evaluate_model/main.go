package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"speech-commands/speech"
	"speech-commands/utils"
	"speech-commands/wav"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	CheckpointPath string
	DataDir        string
	ReportPath     string
	Verbose        bool
}

// ClassMetrics tracks per-class performance
type ClassMetrics struct {
	ClassName     string                  `json:"className"`
	TotalSamples  int                     `json:"totalSamples"`
	CorrectCount  int                     `json:"correctCount"`
	FailedCount   int                     `json:"failedCount"`
	Accuracy      float64                 `json:"accuracy"`
	AvgConfidence float64                 `json:"avgConfidence"`
	ConfidenceStd float64                 `json:"confidenceStd"`
	Misclassified []MisclassificationInfo `json:"misclassified,omitempty"`
}

// MisclassificationInfo stores details of incorrect predictions
type MisclassificationInfo struct {
	Filename       string  `json:"filename"`
	TrueLabel      string  `json:"trueLabel"`
	PredictedLabel string  `json:"predictedLabel"`
	Confidence     float64 `json:"confidence"`
}

// EvaluationReport contains the evaluation results of one checkpoint
type EvaluationReport struct {
	Timestamp       time.Time                 `json:"timestamp"`
	CheckpointPath  string                    `json:"checkpointPath"`
	RunID           string                    `json:"runId"`
	Vocabulary      []string                  `json:"vocabulary"`
	TotalSamples    int                       `json:"totalSamples"`
	CorrectCount    int                       `json:"correctCount"`
	OverallAccuracy float64                   `json:"overallAccuracy"`
	AvgConfidence   float64                   `json:"avgConfidence"`
	ClassMetrics    []ClassMetrics            `json:"classMetrics"`
	ConfusionMatrix map[string]map[string]int `json:"confusionMatrix"`
	ProcessingTime  time.Duration             `json:"processingTime"`
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	config := EvaluationConfig{}

	cmd := &cobra.Command{
		Use:          "evaluate_model",
		Short:        "Measure checkpoint accuracy on a labelled folder of clips",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetFlags(log.Ldate | log.Ltime)
			return run(cmd.Context(), config, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&config.CheckpointPath, "checkpoint",
		utils.GetEnv("CHECKPOINT_PATH", filepath.Join("models", "best_model.msgpack")), "Path to the trained checkpoint")
	cmd.Flags().StringVar(&config.DataDir, "data-dir",
		utils.GetEnv("DATA_DIR", "data"), "Directory with one sub-folder of clips per label")
	cmd.Flags().StringVar(&config.ReportPath, "report", "",
		"Path to save the JSON evaluation report (empty to skip)")
	cmd.Flags().BoolVar(&config.Verbose, "verbose", false, "Log every failed clip")
	return cmd
}

func run(ctx context.Context, config EvaluationConfig, out io.Writer) error {
	log.Println("=== Model Evaluation ===")
	log.Printf("Checkpoint: %s\n", config.CheckpointPath)
	log.Printf("Data: %s\n", config.DataDir)

	inference := speech.NewInferenceContext(config.CheckpointPath, nil)
	info, err := inference.ModelInfo()
	if err != nil {
		return err
	}
	if !info.Trained {
		return speech.ErrNoCheckpoint
	}
	log.Printf("Loaded run %s: %d classes, %d parameters\n", info.RunID, len(info.Vocabulary), info.Parameters)

	subdirs, err := discoverSubdirectories(config.DataDir)
	if err != nil {
		return fmt.Errorf("failed to read evaluation directory: %w", err)
	}

	report, err := evaluateModel(ctx, inference, subdirs, config)
	if err != nil {
		return err
	}
	report.RunID = info.RunID
	report.Vocabulary = info.Vocabulary

	printEvaluationReport(out, report)

	if config.ReportPath != "" {
		if err := saveReport(report, config.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("Report saved to: %s\n", config.ReportPath)
		}
	}
	return nil
}

func discoverSubdirectories(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var subdirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		subdirs = append(subdirs, filepath.Join(rootDir, entry.Name()))
	}
	return subdirs, nil
}

func evaluateModel(ctx context.Context, inference *speech.InferenceContext, subdirs []string, config EvaluationConfig) (EvaluationReport, error) {
	report := EvaluationReport{
		Timestamp:       time.Now(),
		CheckpointPath:  config.CheckpointPath,
		ConfusionMatrix: make(map[string]map[string]int),
	}

	var confidences []float64
	for _, subdir := range subdirs {
		metrics, classConfidences, err := evaluateClass(ctx, inference, subdir, config, &report)
		if err != nil {
			return report, err
		}
		report.ClassMetrics = append(report.ClassMetrics, metrics)
		report.TotalSamples += metrics.TotalSamples
		report.CorrectCount += metrics.CorrectCount
		confidences = append(confidences, classConfidences...)
	}

	if report.TotalSamples > 0 {
		report.OverallAccuracy = float64(report.CorrectCount) / float64(report.TotalSamples) * 100
	}
	if len(confidences) > 0 {
		report.AvgConfidence = stat.Mean(confidences, nil)
	}
	report.ProcessingTime = time.Since(report.Timestamp)
	return report, nil
}

func evaluateClass(ctx context.Context, inference *speech.InferenceContext, classDir string,
	config EvaluationConfig, report *EvaluationReport) (ClassMetrics, []float64, error) {

	trueLabel := filepath.Base(classDir)
	metrics := ClassMetrics{ClassName: trueLabel}

	files, err := collectAudioFiles(classDir)
	if err != nil {
		log.Printf("WARNING: Failed to read directory %s: %v\n", classDir, err)
		return metrics, nil, nil
	}

	var confidences []float64
	for _, filePath := range files {
		if err := ctx.Err(); err != nil {
			return metrics, nil, err
		}

		samples, err := wav.LoadFile(filePath, speech.SampleRate)
		if err != nil {
			metrics.FailedCount++
			if config.Verbose {
				log.Printf("  skipping %s: %v\n", filepath.Base(filePath), err)
			}
			continue
		}

		pred, err := inference.Predict(ctx, samples, speech.SampleRate)
		if err != nil {
			if speech.KindOf(err) != speech.KindData {
				return metrics, nil, err
			}
			metrics.FailedCount++
			continue
		}

		metrics.TotalSamples++
		confidences = append(confidences, pred.Confidence)

		if report.ConfusionMatrix[trueLabel] == nil {
			report.ConfusionMatrix[trueLabel] = make(map[string]int)
		}
		report.ConfusionMatrix[trueLabel][pred.Label]++

		if pred.Label == trueLabel {
			metrics.CorrectCount++
		} else {
			metrics.Misclassified = append(metrics.Misclassified, MisclassificationInfo{
				Filename:       filepath.Base(filePath),
				TrueLabel:      trueLabel,
				PredictedLabel: pred.Label,
				Confidence:     pred.Confidence,
			})
		}
	}

	if metrics.TotalSamples > 0 {
		metrics.Accuracy = float64(metrics.CorrectCount) / float64(metrics.TotalSamples) * 100
	}
	if len(confidences) > 0 {
		metrics.AvgConfidence, metrics.ConfidenceStd = stat.PopMeanStdDev(confidences, nil)
	}
	return metrics, confidences, nil
}

func collectAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func printEvaluationReport(out io.Writer, report EvaluationReport) {
	rule := strings.Repeat("-", 60)

	fmt.Fprintf(out, "Overall Accuracy: %.2f%% (%d/%d correct)\n",
		report.OverallAccuracy, report.CorrectCount, report.TotalSamples)
	fmt.Fprintf(out, "Average Confidence: %.2f%%\n", report.AvgConfidence*100)
	fmt.Fprintf(out, "Processing Time: %.2f seconds\n\n", report.ProcessingTime.Seconds())

	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "%-15s %9s %11s %8s %7s\n", "Class", "Accuracy", "Confidence", "Samples", "Failed")
	fmt.Fprintln(out, rule)

	sorted := make([]ClassMetrics, len(report.ClassMetrics))
	copy(sorted, report.ClassMetrics)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Accuracy > sorted[j].Accuracy
	})
	for _, m := range sorted {
		fmt.Fprintf(out, "%-15s %8.1f%% %10.1f%% %8d %7d\n",
			truncate(m.ClassName, 15), m.Accuracy, m.AvgConfidence*100, m.TotalSamples, m.FailedCount)
	}
	fmt.Fprintln(out)

	printConfusionMatrix(out, report.ConfusionMatrix)
}

func printConfusionMatrix(out io.Writer, matrix map[string]map[string]int) {
	if len(matrix) == 0 {
		return
	}

	seen := map[string]bool{}
	for actual, row := range matrix {
		seen[actual] = true
		for predicted := range row {
			seen[predicted] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Fprintf(out, "%-15s", "Actual \\ Pred")
	for _, label := range labels {
		fmt.Fprintf(out, " %6s", truncate(label, 6))
	}
	fmt.Fprintln(out)

	for _, actual := range labels {
		fmt.Fprintf(out, "%-15s", truncate(actual, 15))
		for _, predicted := range labels {
			if count := matrix[actual][predicted]; count > 0 {
				fmt.Fprintf(out, " %6d", count)
			} else {
				fmt.Fprintf(out, " %6s", ".")
			}
		}
		fmt.Fprintln(out)
	}
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
