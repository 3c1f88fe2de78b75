package heuristics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	// ErrMalformed is returned when stored registry content cannot be decoded.
	ErrMalformed = errors.New("malformed heuristics registry")
	// ErrNotFound is returned when no registry has been saved yet.
	ErrNotFound = errors.New("heuristics registry not found")
)

// Store loads and persists a full registry.
type Store interface {
	// Load returns the stored registry.
	Load(ctx context.Context) (*Registry, error)
	// Save replaces the stored registry with r.
	Save(ctx context.Context, r *Registry) error
}

// FileStore keeps the registry as a pretty-printed JSON file.
// Expected format: {"cex": {"label": ["0x..."]}, "bridge": {...}}
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "heuristics_file")),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads and decodes the registry file. A missing file yields an error
// wrapping both ErrNotFound and os.ErrNotExist; undecodable content wraps
// ErrMalformed.
func (s *FileStore) Load(_ context.Context) (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, s.path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read heuristics %s: %w", s.path, err)
	}

	r, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load heuristics %s: %w", s.path, err)
	}

	cex, bridge := r.Count()
	s.logger.Info("loaded heuristics",
		slog.String("path", s.path),
		slog.Int("cex", cex),
		slog.Int("bridge", bridge),
	)
	return r, nil
}

// Save writes the registry, creating missing parent directories first.
func (s *FileStore) Save(_ context.Context, r *Registry) error {
	data, err := json.MarshalIndent(r.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode heuristics: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write heuristics %s: %w", s.path, err)
	}
	return nil
}

// snapshotDocument mirrors Snapshot with pointers so absent and null
// sections can be told apart from empty ones.
type snapshotDocument struct {
	CEX    *map[string][]string `json:"cex"`
	Bridge *map[string][]string `json:"bridge"`
}

// Decode parses the JSON form of a registry. Both the cex and bridge
// sections must be present and non-null; either may be an empty object.
func Decode(data []byte) (*Registry, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case doc.CEX == nil:
		return nil, fmt.Errorf("%w: missing field \"cex\"", ErrMalformed)
	case doc.Bridge == nil:
		return nil, fmt.Errorf("%w: missing field \"bridge\"", ErrMalformed)
	}
	return FromSnapshot(Snapshot{CEX: *doc.CEX, Bridge: *doc.Bridge}), nil
}
