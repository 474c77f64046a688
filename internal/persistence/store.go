// Package persistence implements atomic YAML storage for the vdc
// host's property tree, with a backup copy and fallback recovery.
package persistence

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	backupSuffix = ".bak"
	tmpSuffix    = ".tmp"
)

// PropertyStore persists a property tree to a YAML file, keeping a
// ".bak" copy of the previous version and writing atomically via a
// temp file plus rename.
type PropertyStore struct {
	path       string
	backupPath string
	tmpPath    string
}

// New creates a store rooted at path.
func New(path string) *PropertyStore {
	return &PropertyStore{
		path:       path,
		backupPath: path + backupSuffix,
		tmpPath:    path + tmpSuffix,
	}
}

// Path is the primary YAML file path.
func (s *PropertyStore) Path() string { return s.path }

// BackupPath is the backup file path.
func (s *PropertyStore) BackupPath() string { return s.backupPath }

// Save writes tree to disk: backs up the existing primary file (best
// effort), writes a new temp file, then renames it onto the primary —
// atomic on POSIX filesystems.
func (s *PropertyStore) Save(tree map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("persistence: create directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath); err != nil {
			log.Warn().Err(err).Str("backup", s.backupPath).Msg("persistence: failed to create backup, continuing anyway")
		}
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("persistence: marshal property tree: %w", err)
	}
	if err := os.WriteFile(s.tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write temp file %s: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.path); err != nil {
		return fmt.Errorf("persistence: replace %s with %s: %w", s.path, s.tmpPath, err)
	}

	log.Info().Str("path", s.path).Msg("persistence: saved property tree")
	return nil
}

// Load restores the property tree from the primary file, falling back
// to the backup if the primary is missing or unparsable. The bool is
// false (with a nil error) when neither file holds usable state.
func (s *PropertyStore) Load() (map[string]interface{}, bool, error) {
	if tree, ok := s.tryLoad(s.path); ok {
		return tree, true, nil
	}

	log.Warn().Str("path", s.path).Str("backup", s.backupPath).Msg("persistence: primary file not usable, trying backup")
	tree, ok := s.tryLoad(s.backupPath)
	if !ok {
		log.Info().Msg("persistence: no persisted state found, starting fresh")
		return nil, false, nil
	}

	if err := copyFile(s.backupPath, s.path); err != nil {
		log.Warn().Err(err).Msg("persistence: could not restore primary from backup")
	}
	return tree, true, nil
}

func (s *PropertyStore) tryLoad(path string) (map[string]interface{}, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("persistence: failed to parse state file")
		return nil, false
	}
	if tree == nil {
		return nil, false
	}
	return tree, true
}

// Delete removes the primary, backup and any stray temp file.
func (s *PropertyStore) Delete() error {
	var firstErr error
	for _, p := range []string{s.path, s.backupPath, s.tmpPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".copy-*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), dst)
}
