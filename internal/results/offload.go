package results

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"snowbridge/internal/config"
	"snowbridge/internal/domain"
)

// Store is the slice of object storage the offloader needs.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// PushOptions carries the per-operation response handling options the
// orchestrator sends with each request.
type PushOptions struct {
	// SizeLimitBytes is the largest payload the orchestrator accepts
	// inline. Zero means no limit.
	SizeLimitBytes int
	// Compress gzips offloaded payloads before upload.
	Compress bool
}

// Offloader swaps oversized result payloads for presigned storage pointers.
type Offloader struct {
	store    Store
	settings *config.Manager
	log      *slog.Logger
}

func NewOffloader(store Store, settings *config.Manager, log *slog.Logger) *Offloader {
	return &Offloader{store: store, settings: settings, log: log}
}

// Prepare marshals the envelope. When the payload exceeds the operation's
// size limit it is written to storage under responses/{trace id} and a
// pointer envelope with a presigned URL is returned instead.
func (o *Offloader) Prepare(ctx context.Context, traceID string, env Envelope, opts PushOptions) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal result envelope: %w", err)
	}
	if opts.SizeLimitBytes <= 0 || len(payload) <= opts.SizeLimitBytes {
		return payload, nil
	}

	key := "responses/" + traceID
	data := payload
	if opts.Compress {
		data, err = gzipBytes(payload)
		if err != nil {
			return nil, fmt.Errorf("compress result payload: %w", err)
		}
	}
	if err := o.store.Write(ctx, key, data); err != nil {
		return nil, fmt.Errorf("offload result payload: %w", err)
	}

	expiry := time.Duration(o.settings.PresignedURLExpirySeconds()) * time.Second
	url, err := o.store.PresignedURL(ctx, key, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign result payload: %w", err)
	}
	o.log.Info("offloaded oversized result",
		"trace_id", traceID,
		"payload_bytes", len(payload),
		"limit_bytes", opts.SizeLimitBytes,
		"compressed", opts.Compress)

	pointer := Envelope{
		domain.AttrResultLocation:   url,
		domain.AttrResultCompressed: opts.Compress,
		domain.AttrTraceID:          traceID,
	}
	return json.Marshal(pointer)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
