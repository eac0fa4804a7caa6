// Package storage keeps uploaded prescription documents (scans, photos of
// paper prescriptions, ID). Only keys are persisted by the domain.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

const MaxDocumentSize = 10 << 20

var (
	ErrUnsupportedType = errors.New("storage: unsupported document type")
	ErrTooLarge        = errors.New("storage: document too large")
)

type PutInput struct {
	Filename    string
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

type Storage interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

var allowedExt = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".heic": "image/heic",
}

// CheckDocument validates the upload before any bytes are written and
// returns the normalised extension.
func CheckDocument(in PutInput) (string, error) {
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if _, ok := allowedExt[ext]; !ok {
		return "", ErrUnsupportedType
	}
	if in.Size > MaxDocumentSize {
		return "", ErrTooLarge
	}
	return ext, nil
}

func contentTypeFor(ext, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return allowedExt[ext]
}
