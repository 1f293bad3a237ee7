package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"txn-features/internal/frame"
	"txn-features/internal/storage"
)

// ObjectStoreSource reads delimited files stored as objects in a bucket. The
// path passed to Load is the object key.
type ObjectStoreSource struct {
	store  storage.ObjectStore
	bucket string
}

var _ Source = (*ObjectStoreSource)(nil)

func NewObjectStoreSource(store storage.ObjectStore, bucket string) *ObjectStoreSource {
	return &ObjectStoreSource{store: store, bucket: bucket}
}

func (s *ObjectStoreSource) Load(ctx context.Context, key string) (*frame.Table, error) {
	obj, err := s.store.GetObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSourceNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("error fetching %s/%s: %w", s.bucket, key, err)
	}
	defer obj.Close()

	table, err := frame.ReadCSV(obj)
	if err != nil {
		return nil, fmt.Errorf("error loading %s/%s: %w", s.bucket, key, err)
	}

	slog.Info("loaded source object", "bucket", s.bucket, "key", key, "rows", table.Rows(), "columns", table.Width())
	return table, nil
}
