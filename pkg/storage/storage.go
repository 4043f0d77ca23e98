package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoredResult identifies a JSON artifact written by StoreJSON.
type StoredResult struct {
	ResultID string
	Path     string
}

// SaveUpload streams src to <outputDir>/uploads/<jobID><ext>, creating
// parent directories as needed. The file is written to a .tmp sibling and
// renamed into place, so a failure never leaves a partial visible file.
func SaveUpload(outputDir, jobID string, src io.Reader, originalName string) (string, error) {
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".bin"
	}

	dir := filepath.Join(outputDir, "uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	finalPath := filepath.Join(dir, jobID+ext)
	if err := writeAtomic(finalPath, src); err != nil {
		return "", err
	}

	return finalPath, nil
}

// StoreJSON serializes payload merged with a generated result id and a UTC
// timestamp into <outputDir>/<timestamp>_<resultID>.json using the same
// atomic tmp-then-rename pattern as SaveUpload.
func StoreJSON(outputDir string, payload map[string]interface{}) (*StoredResult, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	resultID := newHexID()
	ts := time.Now().UTC().Format("20060102T150405Z")
	outPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s.json", ts, resultID))

	toWrite := map[string]interface{}{
		"result_id":      resultID,
		"created_at_utc": ts,
	}
	for k, v := range payload {
		toWrite[k] = v
	}

	data, err := json.MarshalIndent(toWrite, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	data = append(data, '\n')

	if err := writeAtomic(outPath, strings.NewReader(string(data))); err != nil {
		return nil, err
	}

	return &StoredResult{ResultID: resultID, Path: outPath}, nil
}

func writeAtomic(finalPath string, src io.Reader) error {
	tmpPath := finalPath + ".tmp"

	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize file: %w", err)
	}

	return nil
}

func newHexID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
