// Package io provides atomic file publication for run artifacts. Readers
// polling an artifact directory never observe a half-written file: content
// lands under a temp name and is renamed into place.
package io

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v with two-space indentation and publishes it
// atomically at path, creating parent directories as needed.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic publishes data at path via temp file + rename, creating
// parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
