package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"snowbridge/internal/domain"
)

var _ Client = (*AzureClient)(nil)

// AzureClient stores objects in an Azure Blob Storage container using
// shared-key credentials from AZURE_STORAGE_ACCOUNT_KEY. Shared-key auth is
// what makes SAS presigning possible without a service principal.
type AzureClient struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureClient creates a client for the given account and container.
func NewAzureClient(account, container string) (*AzureClient, error) {
	accountKey := os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")
	if accountKey == "" {
		return nil, fmt.Errorf("azure storage requires AZURE_STORAGE_ACCOUNT_KEY")
	}

	cred, err := azblob.NewSharedKeyCredential(account, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return &AzureClient{client: client, container: container, prefix: DefaultKeyPrefix}, nil
}

func (c *AzureClient) Read(ctx context.Context, key string) ([]byte, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.DownloadStream(ctx, c.container, full, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("download blob %s/%s: %w", c.container, full, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s/%s: %w", c.container, full, err)
	}
	return data, nil
}

func (c *AzureClient) Write(ctx context.Context, key string, data []byte) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	if _, err := c.client.UploadBuffer(ctx, c.container, full, data, nil); err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", c.container, full, err)
	}
	return nil
}

func (c *AzureClient) Delete(ctx context.Context, key string) error {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return err
	}
	_, err = c.client.DeleteBlob(ctx, c.container, full, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return domain.ErrNotFound("storage object %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("delete blob %s/%s: %w", c.container, full, err)
	}
	return nil
}

func (c *AzureClient) UploadFile(ctx context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload source %q: %w", path, err)
	}
	return c.Write(ctx, key, data)
}

func (c *AzureClient) DownloadFile(ctx context.Context, key, path string) error {
	data, err := c.Read(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write download target %q: %w", path, err)
	}
	return nil
}

// PresignedURL generates a SAS GET URL for an object.
func (c *AzureClient) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	full, err := joinKey(c.prefix, key)
	if err != nil {
		return "", err
	}
	blobClient := c.client.ServiceClient().NewContainerClient(c.container).NewBlobClient(full)
	sasURL, err := blobClient.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(expiry), nil)
	if err != nil {
		return "", fmt.Errorf("generate SAS URL for %s/%s: %w", c.container, full, err)
	}
	return sasURL, nil
}

// IsBucketPrivate is true; containers are provisioned without public access.
func (c *AzureClient) IsBucketPrivate() bool { return true }

// BucketName returns the configured container.
func (c *AzureClient) BucketName() string { return c.container }
