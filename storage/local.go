package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/feedharvest/models"
)

// LocalStore keeps one JSON file per result set.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a store rooted at dir. The directory is created on
// first save.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Save(ctx context.Context, items []models.VideoItem, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := encode(items, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return models.NewScrapeError(models.ErrCodeStorage, "failed to create result directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.NewScrapeError(models.ErrCodeStorage, fmt.Sprintf("failed to write %s", key), err)
	}
	slog.Info("result set saved", "path", path, "items", len(items))
	return nil
}

func (s *LocalStore) Load(ctx context.Context, key string) ([]models.VideoItem, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStorage, fmt.Sprintf("failed to read %s", key), err)
	}
	return decode(data, key)
}

func (s *LocalStore) Location(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *LocalStore) Close(context.Context) error { return nil }

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || filepath.Base(key) != key || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("invalid result key %q", key), nil)
	}
	return filepath.Join(s.dir, key), nil
}
