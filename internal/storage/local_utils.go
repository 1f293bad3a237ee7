package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

func localStorageFullpath(baseDir, bucket, key string) (string, error) {
	path := filepath.Join(baseDir, bucket, key)
	root := filepath.Join(baseDir, bucket)
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes bucket %q", key, bucket)
	}
	return path, nil
}
