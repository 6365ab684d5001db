package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes files under a directory that the HTTP server exposes
// at PublicURL.
type LocalStorage struct {
	Dir       string
	PublicURL string
}

// NewLocalStorage returns a local storage rooted at dir.
func NewLocalStorage(dir, publicURL string) *LocalStorage {
	return &LocalStorage{Dir: dir, PublicURL: strings.TrimRight(publicURL, "/")}
}

func (s *LocalStorage) path(key string) (string, error) {
	p := filepath.Join(s.Dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.Dir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("upload key %q escapes the upload directory", key)
	}
	return p, nil
}

func (s *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Save creates the file exclusively, so a concurrent upload of the same name
// fails instead of overwriting.
func (s *LocalStorage) Save(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return s.PublicURL + "/" + key, nil
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
