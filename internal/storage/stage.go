package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snowbridge/internal/config"
	"snowbridge/internal/domain"
)

var _ Client = (*StageClient)(nil)

// StageClient stores objects on the app's internal stage. The service spec
// mounts the stage as a block volume, so reads and writes are plain file
// operations; only presigning needs a round trip to the host account.
type StageClient struct {
	mount    string
	prefix   string
	settings *config.Manager
	querier  Querier
}

// NewStageClient creates a client over the stage volume mounted at mount.
func NewStageClient(mount string, settings *config.Manager, querier Querier) *StageClient {
	return &StageClient{
		mount:    mount,
		prefix:   DefaultKeyPrefix,
		settings: settings,
		querier:  querier,
	}
}

func (c *StageClient) path(key string) (string, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.mount, filepath.FromSlash(full)), nil
}

func (c *StageClient) Read(_ context.Context, key string) ([]byte, error) {
	path, err := c.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read stage object %q: %w", key, err)
	}
	return data, nil
}

func (c *StageClient) Write(_ context.Context, key string, data []byte) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create stage directory for %q: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stage object %q: %w", key, err)
	}
	return nil
}

func (c *StageClient) Delete(_ context.Context, key string) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("delete stage object %q: %w", key, err)
	}
	return nil
}

func (c *StageClient) UploadFile(ctx context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload source %q: %w", path, err)
	}
	return c.Write(ctx, key, data)
}

func (c *StageClient) DownloadFile(ctx context.Context, key, path string) error {
	src, err := c.path(key)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("open stage object %q: %w", key, err)
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create download target %q: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("download stage object %q: %w", key, err)
	}
	return nil
}

// PresignedURL asks the host account to sign a stage path. GET_PRESIGNED_URL
// called directly from inside the app returns a URL that does not resolve;
// routing it through the app's execute_query procedure produces a valid one,
// so the call is wrapped whenever the stage name reveals the app schema.
func (c *StageClient) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return "", err
	}
	stage := c.settings.StageName()
	presign := fmt.Sprintf("CALL GET_PRESIGNED_URL(@%s, '%s', %d)", stage, full, int(expiry.Seconds()))

	var rows [][]interface{}
	if schema, ok := stageSchema(stage); ok {
		rows, err = c.querier.Query(ctx, fmt.Sprintf("CALL %s.EXECUTE_QUERY(?)", schema), presign)
	} else {
		rows, err = c.querier.Query(ctx, presign)
	}
	if err != nil {
		return "", fmt.Errorf("presign stage object %q: %w", key, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == nil {
		return "", domain.ErrUnavailable("presign returned no URL for %q", key)
	}
	url, ok := rows[0][0].(string)
	if !ok {
		return "", domain.ErrUnavailable("presign returned non-text URL for %q", key)
	}
	return url, nil
}

// stageSchema returns the database.schema holding a qualified stage.
func stageSchema(stage string) (string, bool) {
	parts := strings.Split(stage, ".")
	if len(parts) < 3 {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// IsBucketPrivate is always true for the internal stage.
func (c *StageClient) IsBucketPrivate() bool { return true }

// BucketName returns the stage the volume is mounted from.
func (c *StageClient) BucketName() string { return c.settings.StageName() }
