// Package storage defines where rendered restaurant snapshots are archived.
// Backends live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// BlobStore writes one object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// SnapshotPath is the object key of one restaurant snapshot:
// <prefix>/<restaurant id>/<run id>.json.
func SnapshotPath(prefix string, restaurantID int64, runID string) string {
	prefix = strings.Trim(prefix, "/")
	name := fmt.Sprintf("%d/%s.json", restaurantID, runID)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
