package photostore

import (
	"context"
	"errors"
	"strings"
)

// DefaultCacheControl marks uploaded originals as immutable for a year; keys
// embed a timestamp so an object is never rewritten in place.
const DefaultCacheControl = "public, max-age=31536000, immutable"

var (
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrUpload               = errors.New("upload failed")
)

type UploadInput struct {
	// Bucket overrides the store's configured bucket when set.
	Bucket       string
	Key          string
	ContentType  string
	Data         []byte
	CacheControl string
}

type UploadResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

type PhotoStore interface {
	Put(ctx context.Context, in UploadInput) (*UploadResult, error)
}

// JoinPublicURL appends key to base, dropping a single trailing slash from base.
func JoinPublicURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
