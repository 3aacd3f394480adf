package utils

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GetEnv returns the value of the environment variable key, or fallback when
// it is unset or blank.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// GetEnvInt is GetEnv for integer settings. Unparsable values yield fallback.
func GetEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(GetEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvFloat is GetEnv for floating point settings.
func GetEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(GetEnv(key, strconv.FormatFloat(fallback, 'g', -1, 64)), 64)
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvBool is GetEnv for boolean settings.
func GetEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(GetEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return value
}

// CreateFolder creates folderPath and any missing parents.
func CreateFolder(folderPath string) error {
	return os.MkdirAll(folderPath, 0o755)
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateUniqueID returns a random positive 63 bit identifier taken from a
// version 4 UUID.
func GenerateUniqueID() int64 {
	for {
		u := uuid.New()
		if id := int64(binary.BigEndian.Uint64(u[:8]) >> 1); id != 0 {
			return id
		}
	}
}
