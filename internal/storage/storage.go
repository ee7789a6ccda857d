// Package storage provides blob storage clients for offloaded results and
// backend-driven storage operations. The default backend is the app's
// internal stage mounted as a block volume; S3, GCS, and Azure clients cover
// self-hosted deployments.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"snowbridge/internal/config"
	"snowbridge/internal/domain"
)

// DefaultKeyPrefix namespaces every object the agent writes.
const DefaultKeyPrefix = "mcd"

// Client is the storage surface the agent needs. Keys are slash-separated
// and relative; implementations apply the shared prefix.
type Client interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	UploadFile(ctx context.Context, key, path string) error
	DownloadFile(ctx context.Context, key, path string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	IsBucketPrivate() bool
	BucketName() string
}

// Querier runs one statement against the host account. The stage client
// uses it for presigning only.
type Querier interface {
	Query(ctx context.Context, statement string, binds ...interface{}) ([][]interface{}, error)
}

// New builds the client selected by STORAGE_PROVIDER.
func New(ctx context.Context, cfg *config.Config, settings *config.Manager, querier Querier) (Client, error) {
	switch cfg.StorageProvider {
	case config.StorageProviderStage:
		return NewStageClient(cfg.StageMountPath, settings, querier), nil
	case config.StorageProviderS3:
		return NewS3Client(cfg.StorageBucket)
	case config.StorageProviderGCS:
		return NewGCSClient(ctx, cfg.StorageBucket)
	case config.StorageProviderAzure:
		return NewAzureClient(cfg.StorageAccount, cfg.StorageBucket)
	default:
		return nil, domain.ErrValidation("unsupported storage provider %q", cfg.StorageProvider)
	}
}

// joinKey applies the shared prefix and rejects keys that could escape it.
// Keys end up in file paths and stage statements, so the accepted character
// set is deliberately small.
func joinKey(prefix, key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", domain.ErrValidation("storage key is required")
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/' || r == '-' || r == '_' || r == '.' || r == '=':
		default:
			return "", domain.ErrValidation("storage key %q contains unsupported character %q", key, r)
		}
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", domain.ErrValidation("storage key %q must not contain ..", key)
		}
	}
	if prefix == "" {
		return key, nil
	}
	return prefix + "/" + key, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// Gunzip inflates data when it carries a gzip header and returns it
// unchanged otherwise. Offloaded payloads may be stored compressed.
func Gunzip(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip payload: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate gzip payload: %w", err)
	}
	return out, nil
}
