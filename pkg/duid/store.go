package duid

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and atomically persists the client DUID at a well-known
// path, generating one on first use.
type Store struct {
	path string
	typ  Type
}

func NewStore(path string, typ Type) *Store {
	return &Store{path: path, typ: typ}
}

// Load returns the persisted DUID, generating and saving a fresh one if
// the file does not yet exist. A failure to write here is Fatal per the
// FSM's error model: the device is never started without a stable DUID.
func (s *Store) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("duid: read %s: %w", s.path, err)
	}

	generated, err := Generate(s.typ)
	if err != nil {
		return nil, err
	}
	if err := s.save(generated); err != nil {
		return nil, err
	}
	return generated, nil
}

// save writes the DUID atomically: write to a temp file in the same
// directory, then rename over the target, so a crash mid-write can never
// leave a partial DUID on disk.
func (s *Store) save(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("duid: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".duid-*")
	if err != nil {
		return fmt.Errorf("duid: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("duid: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("duid: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("duid: rename into place: %w", err)
	}
	return nil
}
