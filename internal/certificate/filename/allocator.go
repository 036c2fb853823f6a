package filename

import (
	"context"
	"fmt"

	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/sentinel"
)

// ExistenceChecker reports whether a key is already taken in the blob store.
type ExistenceChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Reserver claims a key across processes. Reserve returns false when another
// writer already holds the key.
type Reserver interface {
	Reserve(ctx context.Context, key string) (bool, error)
}

// Allocator produces a storage key verified not to collide with an existing
// blob or with a key handed out to a concurrent upload, retrying with a fresh
// suffix on collision.
type Allocator struct {
	sanitizer *Sanitizer
	blobs     ExistenceChecker
	reserver  Reserver
	attempts  int
}

type AllocatorOption func(*Allocator)

// WithReserver replaces the in-process reservation step with a
// cross-process one (e.g. Redis SETNX).
func WithReserver(r Reserver) AllocatorOption {
	return func(a *Allocator) {
		a.reserver = r
	}
}

// WithMaxAttempts bounds the number of keys tried. Defaults to 5.
func WithMaxAttempts(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

func NewAllocator(sanitizer *Sanitizer, blobs ExistenceChecker, opts ...AllocatorOption) *Allocator {
	a := &Allocator{sanitizer: sanitizer, blobs: blobs, attempts: 5}
	for _, opt := range opts {
		opt(a)
	}
	if a.reserver == nil {
		a.reserver = NewLocalReserver(DefaultReservationTTL)
	}
	return a
}

// Allocate returns a key for original that no existing blob uses.
// Blob store failures are propagated; exhausting all attempts yields a
// conflict error wrapping sentinel.ErrConflict.
func (a *Allocator) Allocate(ctx context.Context, original string) (string, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		key := a.sanitizer.Sanitize(original)
		if attempt > 0 {
			key = a.sanitizer.SanitizeWithSuffix(original, shortToken(a.sanitizer.Token()))
		}

		taken, err := a.blobs.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check key %s: %w", key, err)
		}
		if taken {
			continue
		}
		ok, err := a.reserver.Reserve(ctx, key)
		if err != nil {
			return "", fmt.Errorf("reserve key %s: %w", key, err)
		}
		if !ok {
			continue
		}
		return key, nil
	}
	return "", dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "could not allocate a unique storage key")
}

func shortToken(t string) string {
	if len(t) > 8 {
		return t[:8]
	}
	return t
}
