//go:build integration

package integrationtests

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"txn-features/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func TestS3ObjectStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupObjectStore(t, ctx)

	require.NoError(t, store.CreateBucket(ctx, bucketName))
	require.NoError(t, store.CreateBucket(ctx, bucketName), "creating an existing bucket is not an error")

	t.Run("PutAndGetObject", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, bucketName, "batch/a.csv", strings.NewReader("amount\n1\n")))

		obj, err := store.GetObject(ctx, bucketName, "batch/a.csv")
		require.NoError(t, err)
		defer obj.Close()

		data, err := io.ReadAll(obj)
		require.NoError(t, err)
		assert.Equal(t, "amount\n1\n", string(data))
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.GetObject(ctx, bucketName, "batch/missing.csv")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		_, err = store.GetObject(ctx, "missing-bucket", "batch/a.csv")
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)

		objects, err := store.ListObjects(ctx, "missing-bucket", "")
		require.NoError(t, err)
		assert.Empty(t, objects)
	})

	t.Run("ListAndDeleteObjects", func(t *testing.T) {
		require.NoError(t, store.PutObject(ctx, bucketName, "batch/b.csv", strings.NewReader("amount\n2\n")))
		require.NoError(t, store.PutObject(ctx, bucketName, "other/c.csv", strings.NewReader("amount\n3\n")))

		objects, err := store.ListObjects(ctx, bucketName, "batch/")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "batch/a.csv", objects[0].Name)
		assert.Equal(t, int64(9), objects[0].Size)
		assert.Equal(t, "batch/b.csv", objects[1].Name)

		require.NoError(t, store.DeleteObjects(ctx, bucketName, "batch/"))

		objects, err = store.ListObjects(ctx, bucketName, "")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "other/c.csv", objects[0].Name)
	})
}
