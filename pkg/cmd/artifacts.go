package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/storyreel/storyreel/pkg/artifacts"
)

// NewArtifactStore builds the artifact store from its URL: a file path (or
// file:// URL) for local storage, s3://bucket for MinIO-compatible storage.
func NewArtifactStore(ctx context.Context, storeURL string) (artifacts.Store, error) {
	if bucket, ok := strings.CutPrefix(storeURL, "s3://"); ok {
		return artifacts.NewMinioStore(ctx, artifacts.MinioConfig{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    bucket,
			UseSSL:    os.Getenv("S3_USE_SSL") == "true",
		})
	}

	return artifacts.NewFilesystemStore(storeURL)
}
