// Package blob stores uploaded and stamped certificate documents by key.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys that are empty or could escape the
// store's namespace.
var ErrInvalidKey = errors.New("invalid blob key")

// Store is the blob namespace shared by uploads and stamped documents.
// Read returns an error wrapping sentinel.ErrNotFound for missing keys.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Object describes one stored blob.
type Object struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// Lister enumerates stored blobs for reviewer listings.
type Lister interface {
	List(ctx context.Context) ([]Object, error)
}

// ValidateKey rejects keys that are not a single path element.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, `/\`) || path.Base(key) != key {
		return ErrInvalidKey
	}
	return nil
}
