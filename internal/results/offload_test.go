package results_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowbridge/internal/config"
	"snowbridge/internal/results"
)

type stubStore struct {
	writeFn   func(ctx context.Context, key string, data []byte) error
	presignFn func(ctx context.Context, key string, expiry time.Duration) (string, error)
}

func (s *stubStore) Write(ctx context.Context, key string, data []byte) error {
	if s.writeFn == nil {
		panic("unexpected Write call")
	}
	return s.writeFn(ctx, key, data)
}

func (s *stubStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presignFn == nil {
		panic("unexpected PresignedURL call")
	}
	return s.presignFn(ctx, key, expiry)
}

func newOffloader(t *testing.T, store results.Store, settings map[string]string) *results.Offloader {
	t.Helper()
	manager := config.NewManager(config.NewMemoryStore(settings), config.DeriveNames("mcd_agent"))
	require.NoError(t, manager.Refresh(context.Background()))
	return results.NewOffloader(store, manager, slog.New(slog.DiscardHandler))
}

func TestPrepareInlineWhenUnderLimit(t *testing.T) {
	t.Parallel()

	offloader := newOffloader(t, &stubStore{}, nil)
	env := results.ConnectionTest("op-1")

	payload, err := offloader.Prepare(context.Background(), "op-1", env, results.PushOptions{SizeLimitBytes: 10_000})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "op-1", decoded["__mcd_trace_id__"])
	assert.NotContains(t, decoded, "__mcd_result_location__")
}

func TestPrepareInlineWhenNoLimit(t *testing.T) {
	t.Parallel()

	offloader := newOffloader(t, &stubStore{}, nil)
	env := results.ConnectionTest("op-2")

	payload, err := offloader.Prepare(context.Background(), "op-2", env, results.PushOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestPrepareOffloadsOversizedPayload(t *testing.T) {
	t.Parallel()

	var storedKey string
	var storedData []byte
	store := &stubStore{
		writeFn: func(_ context.Context, key string, data []byte) error {
			storedKey = key
			storedData = data
			return nil
		},
		presignFn: func(_ context.Context, key string, expiry time.Duration) (string, error) {
			assert.Equal(t, "responses/op-3", key)
			assert.Equal(t, 120*time.Second, expiry)
			return "https://signed.example/responses/op-3", nil
		},
	}
	offloader := newOffloader(t, store, map[string]string{
		"PRE_SIGNED_URL_RESPONSE_EXPIRATION_SECONDS": "120",
	})
	env := results.Envelope{
		"__mcd_result__":   map[string]interface{}{"all_results": []interface{}{"padding padding padding"}},
		"__mcd_trace_id__": "op-3",
	}

	payload, err := offloader.Prepare(context.Background(), "op-3", env, results.PushOptions{SizeLimitBytes: 16})
	require.NoError(t, err)

	assert.Equal(t, "responses/op-3", storedKey)
	assert.Contains(t, string(storedData), "padding padding padding")

	var pointer map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &pointer))
	assert.Equal(t, "https://signed.example/responses/op-3", pointer["__mcd_result_location__"])
	assert.Equal(t, false, pointer["__mcd_result_compressed__"])
	assert.Equal(t, "op-3", pointer["__mcd_trace_id__"])
	assert.NotContains(t, pointer, "__mcd_result__")
}

func TestPrepareCompressesWhenRequested(t *testing.T) {
	t.Parallel()

	var storedData []byte
	store := &stubStore{
		writeFn: func(_ context.Context, _ string, data []byte) error {
			storedData = data
			return nil
		},
		presignFn: func(_ context.Context, _ string, _ time.Duration) (string, error) {
			return "https://signed.example/responses/op-4", nil
		},
	}
	offloader := newOffloader(t, store, nil)
	env := results.Envelope{
		"__mcd_result__":   map[string]interface{}{"all_results": []interface{}{"compress me please"}},
		"__mcd_trace_id__": "op-4",
	}

	payload, err := offloader.Prepare(context.Background(), "op-4", env, results.PushOptions{SizeLimitBytes: 16, Compress: true})
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(storedData))
	require.NoError(t, err)
	inflated, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(inflated), "compress me please")

	var pointer map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &pointer))
	assert.Equal(t, true, pointer["__mcd_result_compressed__"])
}

func TestPrepareWriteFailure(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		writeFn: func(_ context.Context, _ string, _ []byte) error {
			return assert.AnError
		},
	}
	offloader := newOffloader(t, store, nil)
	env := results.Envelope{"__mcd_result__": "x", "__mcd_trace_id__": "op-5"}

	_, err := offloader.Prepare(context.Background(), "op-5", env, results.PushOptions{SizeLimitBytes: 1})
	require.ErrorContains(t, err, "offload result payload")
}
