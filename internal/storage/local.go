package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Local struct {
	BaseDir   string
	URLPrefix string
}

func NewLocal(baseDir, urlPrefix string) *Local {
	return &Local{BaseDir: baseDir, URLPrefix: urlPrefix}
}

func (l *Local) Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error) {
	ext, err := CheckDocument(in)
	if err != nil {
		return PutResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(l.BaseDir, 0o750); err != nil {
		return PutResult{}, err
	}

	key := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(l.BaseDir, key), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return PutResult{}, err
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, MaxDocumentSize+1))
	if err == nil && n > MaxDocumentSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return PutResult{}, err
	}
	return PutResult{Key: key, URL: l.URL(key)}, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	_ = ctx
	err := os.Remove(filepath.Join(l.BaseDir, filepath.Base(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *Local) URL(key string) string {
	return strings.TrimRight(l.URLPrefix, "/") + "/" + filepath.Base(key)
}

func (l *Local) String() string { return fmt.Sprintf("local(%s)", l.BaseDir) }
