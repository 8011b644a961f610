// Package artifact persists run artifacts: M_ask, the oracle audit log,
// verdicts and the refined alignment.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agenthands/alignoracle/internal/config"
)

var ErrNotFound = errors.New("artifact not found")

// Store keeps artifacts under a run ID.
type Store interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
}

// NewStore builds the backend selected in cfg.
func NewStore(cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir), nil
	case "s3":
		s, err := NewS3Store(cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &config.ConfigurationError{Field: "artifacts.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// FileStore writes artifacts to <root>/<runID>/<path>.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	if root == "" {
		root = "."
	}
	return &FileStore{root: root}
}

// cleanKey trims runID and name and rejects a name that leaves the run.
func cleanKey(runID, name string) (string, string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || strings.ContainsAny(runID, `/\`) {
		return "", "", fmt.Errorf("run_id %q is invalid", runID)
	}
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", "", fmt.Errorf("path %q escapes the run directory", name)
		}
	}
	rel := path.Clean(name)
	if name == "" || rel == "." {
		return "", "", fmt.Errorf("path is required")
	}
	return runID, rel, nil
}

func (s *FileStore) file(runID, path string) (string, error) {
	run, rel, err := cleanKey(runID, path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, run, filepath.FromSlash(rel)), nil
}

func (s *FileStore) Put(_ context.Context, runID, path string, content []byte) error {
	full, err := s.file(runID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}

func (s *FileStore) Get(_ context.Context, runID, path string) ([]byte, error) {
	full, err := s.file(runID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) List(_ context.Context, runID string) ([]string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	base := filepath.Join(s.root, runID)
	var out []string
	err := filepath.WalkDir(base, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(out)
	return out, err
}
