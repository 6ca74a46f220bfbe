package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Local stores documents as files in a single directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed and returns a Local archive rooted there.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, eris.New("archive: local provider requires archive.dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "archive: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "archive: create %s", abs)
	}
	return &Local{dir: abs}, nil
}

// Put writes data to a temp file and renames it over the key, so readers
// never observe a partial document.
func (l *Local) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "archive: put cancelled")
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", eris.Wrap(err, "archive: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrapf(err, "archive: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "archive: close %s", key)
	}

	path := filepath.Join(l.dir, key)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "archive: rename %s", key)
	}
	return "file://" + filepath.ToSlash(path), nil
}

// Get opens the stored document.
func (l *Local) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.dir, key))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "archive: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "archive: open %s", key)
	}
	return f, nil
}

// Delete removes the stored document.
func (l *Local) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(l.dir, key))
	if os.IsNotExist(err) {
		return eris.Wrapf(ErrNotFound, "archive: %s", key)
	}
	if err != nil {
		return eris.Wrapf(err, "archive: delete %s", key)
	}
	return nil
}
