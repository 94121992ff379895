package writer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"
)

// BlobSink uploads output files to an Azure Blob Storage container using a shared key.
// Plain http endpoints are allowed so a local Azurite instance can be targeted.
type BlobSink struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        *zap.Logger
	containerInit bool
}

// NewBlobSink creates a sink from a standard connection string. Blob names are the
// written paths made relative to prefix, usually the target directory.
func NewBlobSink(connectionString, containerName, prefix string, logger *zap.Logger) (*BlobSink, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobSink{
		client:        client,
		containerName: containerName,
		prefix:        prefix,
		logger:        logger,
	}, nil
}

// Write implements Sink.
func (b *BlobSink) Write(ctx context.Context, p string, data []byte) error {
	if err := b.ensureContainer(ctx); err != nil {
		return err
	}

	name, err := b.blobName(p)
	if err != nil {
		return err
	}

	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlockBlobClient(name)
	_, err = blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType(name)),
		},
	})
	if err != nil {
		b.logger.Error("Failed to upload to blob storage",
			zap.String("blob_path", name),
			zap.Int("size", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}

	b.logger.Debug("Uploaded blob",
		zap.String("blob_path", name),
		zap.Int("size_bytes", len(data)))
	return nil
}

// blobName turns a local path into a slash separated name below the prefix.
func (b *BlobSink) blobName(p string) (string, error) {
	name := p
	if b.prefix != "" {
		rel, err := filepath.Rel(b.prefix, p)
		if err != nil {
			return "", fmt.Errorf("failed to relativize %s: %w", p, err)
		}
		name = rel
	}

	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	if name == "" || name == "." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("path %s is outside of %s", p, b.prefix)
	}
	return name, nil
}

func (b *BlobSink) ensureContainer(ctx context.Context) error {
	if b.containerInit {
		return nil
	}

	_, err := b.client.CreateContainer(ctx, b.containerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
			b.containerInit = true
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	b.containerInit = true
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".js", ".mjs", ".cjs":
		return "application/javascript"
	case ".map", ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
