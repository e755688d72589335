package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// FileStore keeps the registry in a local JSON document.
type FileStore struct {
	path   string
	logger *logger.Logger
}

// NewFileStore creates a file-backed repository.
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("registry file path is required")
	}
	return &FileStore{
		path:   path,
		logger: log.With("component", "registry", "backend", "file"),
	}, nil
}

// Load reads the registry document. Both bare and "record"-wrapped documents are accepted.
func (s *FileStore) Load(ctx context.Context) (*client.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}
	reg, err := decodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", client.ErrRegistryUnavailable, s.path, err)
	}
	return reg, nil
}

// Replace writes reg atomically: a temp file in the same directory renamed over the target.
func (s *FileStore) Replace(ctx context.Context, reg *client.Registry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", client.ErrRegistryPersist, err)
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", client.ErrRegistryPersist, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", client.ErrRegistryPersist, err)
	}
	s.logger.Debug("registry written", "path", s.path, "clients", len(reg.Clients))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
