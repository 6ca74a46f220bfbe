// Package archive stores original documents durably by key.
package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("archive: object not found")

// DefaultKey is used when a source name reduces to nothing.
const DefaultKey = "document.pdf"

// Archive is a key-addressed blob store. Put overwrites any existing object
// under the same key, so retrying a Put is safe.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) (location string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New creates the Archive selected by cfg.Provider.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	switch cfg.Provider {
	case "s3", "":
		return NewS3FromConfig(ctx, cfg)
	case "local":
		return NewLocal(cfg.Dir)
	default:
		return nil, eris.Errorf("archive: unknown provider %q", cfg.Provider)
	}
}

// KeyFor derives a stable archive key from a document's source name.
func KeyFor(sourceName string) string {
	name := norm.NFC.String(sourceName)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if name == "" {
		return DefaultKey
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return eris.Errorf("archive: invalid key %q", key)
	}
	return nil
}
