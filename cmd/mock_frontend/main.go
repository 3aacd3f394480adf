package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"speech-commands/wav"

	"github.com/spf13/cobra"
)

type response struct {
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
}

func main() {
	var dir, file, baseURL string
	var delay time.Duration

	cmd := &cobra.Command{
		Use:          "mock_frontend",
		Short:        "Upload WAV clips and ask the server to classify them",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := resolveFiles(file, dir)
			if err != nil {
				return fmt.Errorf("failed to resolve files: %w", err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no WAV files found (file=%s dir=%s)", file, dir)
			}

			client := &http.Client{Timeout: time.Minute}
			fmt.Printf("Classifying %d sample(s) against %s\n\n", len(files), baseURL)
			for idx, path := range files {
				if err := classify(client, strings.TrimRight(baseURL, "/"), path); err != nil {
					log.Printf("classification failed for %s: %v\n", path, err)
				}
				if idx < len(files)-1 && delay > 0 {
					time.Sleep(delay)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "Directory containing WAV samples (ignored if --file is set)")
	cmd.Flags().StringVar(&file, "file", "", "Single WAV file to classify (overrides --dir)")
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:5000", "Server base URL")
	cmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "Delay between clips when using --dir")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveFiles(single, dir string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".wav") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func classify(client *http.Client, baseURL, path string) error {
	fmt.Printf("→ %s\n", path)

	clip, err := wav.ReadFile(path)
	if err != nil {
		return fmt.Errorf("parse wav: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(raw); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	uploaded, err := call(client, http.MethodPost, baseURL+"/upload_file/", mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if uploaded.Message != filepath.Base(path) {
		return fmt.Errorf("upload rejected: %s", uploaded.Message)
	}

	pred, err := call(client, http.MethodGet, baseURL+"/predict/", "", nil)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	fmt.Printf("   %.2fs @ %d Hz → %s (%.1f%%)\n", clip.Duration(), clip.SampleRate, pred.Message, pred.Confidence*100)
	return nil
}

func call(client *http.Client, method, url, contentType string, payload io.Reader) (response, error) {
	var out response

	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
