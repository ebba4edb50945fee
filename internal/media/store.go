package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pairchat/internal/apperr"
)

// Category is an upload policy: accepted extensions and a size cap.
type Category struct {
	Name       string
	Extensions []string
	MaxBytes   int64
}

var (
	Image = Category{
		Name:       "image",
		Extensions: []string{".jpg", ".jpeg", ".png", ".gif"},
		MaxBytes:   10 << 20,
	}
	Video = Category{
		Name:       "video",
		Extensions: []string{".mp4", ".webm", ".ogg", ".mov"},
		MaxBytes:   50 << 20,
	}
	ProfilePicture = Category{
		Name:       "profile",
		Extensions: []string{".jpg", ".jpeg", ".png", ".gif"},
		MaxBytes:   5 << 20,
	}
)

func (c Category) allows(ext string) bool {
	for _, e := range c.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// LocalStore writes uploads under a directory served at /uploads.
type LocalStore struct {
	dir        string
	publicBase string
}

// NewLocalStore creates dir if needed. publicBase, when set, prefixes the
// returned URLs (e.g. "https://chat.example.com").
func NewLocalStore(dir, publicBase string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

// Store validates and persists one file and returns its public URL.
func (s *LocalStore) Store(ctx context.Context, filename string, size int64, body io.Reader, category Category) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !category.allows(ext) {
		return "", apperr.Wrap(apperr.CodeInvalidArgument, "only "+category.Name+" files are allowed", apperr.ErrUnsupportedMedia)
	}
	if size > category.MaxBytes {
		return "", apperr.ErrMediaTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", apperr.ErrUploadFailed(err)
	}

	name := uuid.NewString() + ext
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", apperr.ErrUploadFailed(err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(body, category.MaxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", apperr.ErrUploadFailed(err)
	}
	if closeErr != nil {
		return "", apperr.ErrUploadFailed(closeErr)
	}
	if written > category.MaxBytes {
		return "", apperr.ErrMediaTooLarge
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", apperr.ErrUploadFailed(err)
	}

	logrus.WithFields(logrus.Fields{"category": category.Name, "file": name, "bytes": written}).Info("media stored")
	return s.publicBase + "/uploads/" + name, nil
}
