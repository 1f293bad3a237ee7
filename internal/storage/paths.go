package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// IsS3Path reports whether path uses the s3:// scheme.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseS3Path splits s3://bucket/key into its bucket and key.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	parsed, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 path '%s': %w", s3Path, err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid scheme in S3 path '%s', expected 's3'", s3Path)
	}
	bucket = parsed.Host
	key = strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 path '%s' must name both a bucket and a key", s3Path)
	}
	return bucket, key, nil
}
