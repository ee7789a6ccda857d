package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"snowbridge/internal/domain"
)

var _ Client = (*S3Client)(nil)

// S3Client stores objects in an S3 or S3-compatible bucket. Credentials and
// region come from the standard AWS environment variables; AWS_ENDPOINT_URL
// switches to path-style addressing for compatible stores.
type S3Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewS3Client creates a client for the given bucket.
func NewS3Client(bucket string) (*S3Client, error) {
	keyID := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if keyID == "" || secret == "" {
		return nil, fmt.Errorf("S3 storage requires AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			keyID, secret, os.Getenv("AWS_SESSION_TOKEN"),
		),
	}
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}

	client := s3.New(opts)
	return &S3Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  DefaultKeyPrefix,
	}, nil
}

func (c *S3Client) Read(ctx context.Context, key string) ([]byte, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return nil, err
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, domain.ErrNotFound("storage object %q not found", key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", c.bucket, full, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", c.bucket, full, err)
	}
	return data, nil
}

func (c *S3Client) Write(ctx context.Context, key string, data []byte) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", c.bucket, full, err)
	}
	return nil
}

func (c *S3Client) Delete(ctx context.Context, key string) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", c.bucket, full, err)
	}
	return nil
}

func (c *S3Client) UploadFile(ctx context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload source %q: %w", path, err)
	}
	return c.Write(ctx, key, data)
}

func (c *S3Client) DownloadFile(ctx context.Context, key, path string) error {
	data, err := c.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write download target %q: %w", path, err)
	}
	return nil
}

// PresignedURL generates a presigned GET URL for an object.
func (c *S3Client) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return "", err
	}
	result, err := c.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(full),
		},
		s3.WithPresignExpires(expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", c.bucket, full, err)
	}
	return result.URL, nil
}

// IsBucketPrivate is true; buckets are provisioned without public access.
func (c *S3Client) IsBucketPrivate() bool { return true }

// BucketName returns the configured bucket.
func (c *S3Client) BucketName() string { return c.bucket }
