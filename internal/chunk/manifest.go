package chunk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docrip/internal/docrip"
)

const manifestName = ".manifest.json"

// atomicWrite commits data to <dir>/<name> via a temp-file-then-rename
// commit, the same discipline vault.FileSystemVault.writeFile uses, so a
// reader never observes a partially written file.
func atomicWrite(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// WriteManifest atomically writes m as JSON to <dir>/.manifest.json, using
// the same temp-then-rename commit as chunk file writes so a reader never
// observes a partially written manifest.
func WriteManifest(dir string, m docrip.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &ArchiveError{Stage: StageManifest, Cause: err}
	}
	if err := atomicWrite(dir, manifestName, data); err != nil {
		return &ArchiveError{Stage: StageManifest, Cause: err}
	}
	return nil
}

// ReadManifest loads a previously committed manifest, used on resume to
// compare against a fresh chunking run's output.
func ReadManifest(dir string) (docrip.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return docrip.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m docrip.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return docrip.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
