package source

import (
	"context"

	"txn-features/internal/frame"
	"txn-features/internal/storage"
)

// RoutingSource loads s3:// paths from an object store and everything else
// from the local filesystem.
type RoutingSource struct {
	files *FileSource
	store storage.ObjectStore
}

var _ Source = (*RoutingSource)(nil)

func NewRoutingSource(files *FileSource, store storage.ObjectStore) *RoutingSource {
	return &RoutingSource{files: files, store: store}
}

func (s *RoutingSource) Load(ctx context.Context, path string) (*frame.Table, error) {
	if !storage.IsS3Path(path) {
		return s.files.Load(ctx, path)
	}

	bucket, key, err := storage.ParseS3Path(path)
	if err != nil {
		return nil, err
	}
	return NewObjectStoreSource(s.store, bucket).Load(ctx, key)
}
