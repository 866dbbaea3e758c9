// Package storage persists deduplicated result sets.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/use-agent/feedharvest/config"
	"github.com/use-agent/feedharvest/models"
)

// Store saves and loads result sets by key.
type Store interface {
	// Save writes items under key, replacing any previous set.
	Save(ctx context.Context, items []models.VideoItem, key string) error

	// Load returns the set stored under key, or a NOT_FOUND ScrapeError.
	Load(ctx context.Context, key string) ([]models.VideoItem, error)

	// Location describes where key is stored, for humans.
	Location(key string) string

	Close(ctx context.Context) error
}

// New selects the backend described by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	if cfg.UseLocal {
		slog.Info("using local result storage", "dir", cfg.Dir)
		return NewLocalStore(cfg.Dir), nil
	}
	switch strings.ToLower(cfg.Remote) {
	case "", "s3":
		slog.Info("using s3 result storage", "bucket", cfg.Bucket, "region", cfg.AWSRegion)
		return NewS3Store(ctx, cfg.Bucket, cfg.AWSRegion)
	case "mongo", "mongodb":
		slog.Info("using mongo result storage", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("storage: unknown remote store %q", cfg.Remote)
	}
}

// Format renders one public video URL per line.
func Format(items []models.VideoItem) string {
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL()
	}
	return strings.Join(urls, "\n")
}

func encode(items []models.VideoItem, key string) ([]byte, error) {
	if len(items) == 0 {
		slog.Warn("saving empty result set", "key", key)
		items = []models.VideoItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStorage, "failed to encode result set", err)
	}
	return data, nil
}

func decode(data []byte, key string) ([]models.VideoItem, error) {
	var items []models.VideoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStorage,
			fmt.Sprintf("result set %s is corrupt", key), err)
	}
	if items == nil {
		items = []models.VideoItem{}
	}
	return items, nil
}

func notFound(key string, err error) error {
	return models.NewScrapeError(models.ErrCodeNotFound, fmt.Sprintf("result set %s not found", key), err)
}
