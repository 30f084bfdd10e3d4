package local

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vbonduro/detectchat/internal/photostore"
)

// LocalPhotoStore writes uploads beneath basePath, mirroring the object key
// layout a bucket would use.
type LocalPhotoStore struct {
	basePath      string
	publicBaseURL string
}

func NewLocalPhotoStore(basePath, publicBaseURL string) (*LocalPhotoStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("%w: local photo path is empty", photostore.ErrMissingConfiguration)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalPhotoStore{basePath: basePath, publicBaseURL: publicBaseURL}, nil
}

func (s *LocalPhotoStore) Put(ctx context.Context, in photostore.UploadInput) (*photostore.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.safeJoin(in.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", photostore.ErrUpload, err)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %v", photostore.ErrUpload, err)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create file: %v", photostore.ErrUpload, err)
	}
	if _, err := f.Write(in.Data); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return nil, fmt.Errorf("%w: failed to write file: %v", photostore.ErrUpload, err)
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return nil, fmt.Errorf("%w: failed to close file: %v", photostore.ErrUpload, err)
	}

	return &photostore.UploadResult{
		Bucket: s.basePath,
		Key:    in.Key,
		URL:    s.url(in.Key, filePath),
	}, nil
}

func (s *LocalPhotoStore) url(key, filePath string) string {
	if s.publicBaseURL != "" {
		return photostore.JoinPublicURL(s.publicBaseURL, key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filePath)}).String()
}

// safeJoin resolves storageKey relative to basePath and rejects directory traversal.
func (s *LocalPhotoStore) safeJoin(storageKey string) (string, error) {
	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, filepath.FromSlash(storageKey)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt")
	}
	return absPath, nil
}
