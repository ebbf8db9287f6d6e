// Package storage defines the blob store used for export artifacts.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// BlobStore persists an object and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

const gcsScheme = "gs://"

// IsGCS reports whether target names a Cloud Storage object.
func IsGCS(target string) bool {
	return strings.HasPrefix(target, gcsScheme)
}

// SplitGCS splits gs://bucket/object into its bucket and object name.
func SplitGCS(target string) (bucket, object string, err error) {
	if !IsGCS(target) {
		return "", "", fmt.Errorf("not a gs:// uri: %q", target)
	}
	rest := strings.TrimPrefix(target, gcsScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.TrimSpace(object) == "" {
		return "", "", fmt.Errorf("gs uri must name a bucket and object: %q", target)
	}
	return bucket, object, nil
}
