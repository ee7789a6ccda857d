package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"snowbridge/internal/domain"
)

var _ Client = (*GCSClient)(nil)

// GCSClient stores objects in a Google Cloud Storage bucket. Credentials
// come from the ambient service account, or from an explicit key file when
// GOOGLE_SERVICE_ACCOUNT_KEY_FILE is set.
type GCSClient struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSClient creates a client for the given bucket.
func NewGCSClient(ctx context.Context, bucket string) (*GCSClient, error) {
	var opts []option.ClientOption
	if keyFile := os.Getenv("GOOGLE_SERVICE_ACCOUNT_KEY_FILE"); keyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, keyFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSClient{client: client, bucket: bucket, prefix: DefaultKeyPrefix}, nil
}

func (c *GCSClient) Read(ctx context.Context, key string) ([]byte, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return nil, err
	}
	reader, err := c.client.Bucket(c.bucket).Object(full).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", c.bucket, full, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", c.bucket, full, err)
	}
	return data, nil
}

func (c *GCSClient) Write(ctx context.Context, key string, data []byte) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	writer := c.client.Bucket(c.bucket).Object(full).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", c.bucket, full, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish gs://%s/%s: %w", c.bucket, full, err)
	}
	return nil
}

func (c *GCSClient) Delete(ctx context.Context, key string) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	err = c.client.Bucket(c.bucket).Object(full).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", c.bucket, full, err)
	}
	return nil
}

func (c *GCSClient) UploadFile(ctx context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload source %q: %w", path, err)
	}
	return c.Write(ctx, key, data)
}

func (c *GCSClient) DownloadFile(ctx context.Context, key, path string) error {
	data, err := c.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write download target %q: %w", path, err)
	}
	return nil
}

// PresignedURL generates a signed GET URL for an object.
func (c *GCSClient) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return "", err
	}
	signedURL, err := c.client.Bucket(c.bucket).SignedURL(full, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign gs://%s/%s: %w", c.bucket, full, err)
	}
	return signedURL, nil
}

// IsBucketPrivate is true; buckets are provisioned without public access.
func (c *GCSClient) IsBucketPrivate() bool { return true }

// BucketName returns the configured bucket.
func (c *GCSClient) BucketName() string { return c.bucket }
