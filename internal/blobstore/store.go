// Package blobstore is the artifact bucket: S3 (or an S3-compatible service
// such as MinIO) in production and an in-memory map in tests.
package blobstore

import (
	"context"
	"io"
	"path"
	"strings"

	"transcoder/internal/contracts"
)

// Blob describes one stored object.
type Blob struct {
	Key         string
	ContentType string
	Size        int64
}

// Name returns the final path element of the key.
func (b Blob) Name() string {
	return path.Base(b.Key)
}

// Store uploads, lists, and deletes objects in one bucket.
type Store interface {
	// Upload writes body under key and returns the object's location.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Blob, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactKey returns "{videoId}/{encodingId}/{fileName}".
func ArtifactKey(videoID string, encodingID contracts.EncodingID, fileName string) string {
	return path.Join(videoID, string(encodingID), fileName)
}

// ArtifactPrefix returns "{videoId}/{encodingId}/", the prefix of one job's
// objects.
func ArtifactPrefix(videoID string, encodingID contracts.EncodingID) string {
	return path.Join(videoID, string(encodingID)) + "/"
}

// VideoPrefix returns the prefix holding every object of a video.
func VideoPrefix(videoID string) string {
	return strings.TrimSuffix(videoID, "/") + "/"
}

func contentTypeForKey(key string) string {
	container, ok := contracts.ContainerFromFileName(key)
	if !ok {
		return ""
	}
	contentType, _ := contracts.ContentType(container)
	return contentType
}
