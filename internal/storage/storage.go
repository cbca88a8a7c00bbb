// Package storage keeps the bytes of uploaded documents.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

// Store defines blob storage operations. Keys are slash-separated and never
// start with a slash.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns common.ErrNotFound for an unknown key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the storage key of a document: owner/hash-prefix/hash.ext.
func Key(ownerID, contentHash, ext string) string {
	prefix := contentHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	name := contentHash
	if ext != "" {
		name += "." + ext
	}
	return path.Join(ownerID, prefix, name)
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "", "fs":
		return NewLocalStorage(cfg.Dir)
	case "bolt":
		return NewBoltStorage(cfg.BoltPath)
	case "minio":
		return NewMinioStorage(ctx, cfg.Minio, logger)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)[1:]
	if k == "" || k != key {
		return "", common.NewValidationError(fmt.Sprintf("invalid storage key %q", key))
	}
	return k, nil
}
