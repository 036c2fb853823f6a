package filename

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/sentinel"
)

type fakeBlobs struct {
	mu    sync.Mutex
	taken map[string]bool
	err   error
}

func (f *fakeBlobs) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taken[key], f.err
}

type fakeReserver struct {
	mu       sync.Mutex
	reserved map[string]bool
	err      error
}

func (f *fakeReserver) Reserve(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.reserved[key] {
		return false, nil
	}
	f.reserved[key] = true
	return true, nil
}

type AllocatorSuite struct {
	suite.Suite
	ctx       context.Context
	blobs     *fakeBlobs
	sanitizer *Sanitizer
	tokens    int
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.blobs = &fakeBlobs{taken: map[string]bool{}}
	s.tokens = 0
	instant := time.Unix(1700000000, 0)
	s.sanitizer = NewSanitizer(
		WithClock(func() time.Time { return instant }),
		WithTokenSource(func() string {
			s.tokens++
			return strings.Repeat(string(rune('a'+s.tokens-1)), 16)
		}),
	)
}

func (s *AllocatorSuite) TestFirstKeyFree() {
	key, err := NewAllocator(s.sanitizer, s.blobs).Allocate(s.ctx, "My Doc (1).pdf")
	s.Require().NoError(err)
	s.Equal("1700000000000000000_My_Doc_1.pdf", key)
}

func (s *AllocatorSuite) TestRetriesWithSuffixOnCollision() {
	s.blobs.taken["1700000000000000000_My_Doc_1.pdf"] = true

	key, err := NewAllocator(s.sanitizer, s.blobs).Allocate(s.ctx, "My Doc (1).pdf")
	s.Require().NoError(err)
	s.Equal("1700000000000000000_My_Doc_1-aaaaaaaa.pdf", key)
}

func (s *AllocatorSuite) TestReservationLosesToConcurrentWriter() {
	reserver := &fakeReserver{reserved: map[string]bool{"1700000000000000000_a.pdf": true}}

	key, err := NewAllocator(s.sanitizer, s.blobs, WithReserver(reserver)).Allocate(s.ctx, "a.pdf")
	s.Require().NoError(err)
	s.Equal("1700000000000000000_a-aaaaaaaa.pdf", key)
}

func (s *AllocatorSuite) TestConcurrentSameInstantNeverShareKey() {
	reserver := &fakeReserver{reserved: map[string]bool{}}
	alloc := NewAllocator(NewSanitizer(WithClock(func() time.Time { return time.Unix(1, 0) })), s.blobs, WithReserver(reserver))

	const n = 20
	keys := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := alloc.Allocate(s.ctx, "same.pdf")
			if err == nil {
				keys <- key
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for k := range keys {
		s.False(seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	s.NotEmpty(seen)
}

// slowBlobs widens the window between the existence check and the write.
type slowBlobs struct{}

func (slowBlobs) Exists(context.Context, string) (bool, error) {
	time.Sleep(20 * time.Millisecond)
	return false, nil
}

func (s *AllocatorSuite) TestConcurrentSameInstantWithoutReserverNeverShareKey() {
	alloc := NewAllocator(NewSanitizer(WithClock(func() time.Time { return time.Unix(1, 0) })), slowBlobs{})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []string
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := alloc.Allocate(s.ctx, "scan.pdf")
			s.NoError(err)
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Require().Len(keys, 2)
	s.NotEqual(keys[0], keys[1])
}

func (s *AllocatorSuite) TestLocalReservationExpires() {
	now := time.Unix(1700000000, 0)
	r := NewLocalReserver(time.Minute)
	r.now = func() time.Time { return now }

	ok, err := r.Reserve(s.ctx, "k")
	s.Require().NoError(err)
	s.True(ok)

	ok, _ = r.Reserve(s.ctx, "k")
	s.False(ok)

	now = now.Add(time.Minute)
	ok, _ = r.Reserve(s.ctx, "k")
	s.True(ok, "expired reservation is released")
}

func (s *AllocatorSuite) TestExhaustedAttemptsIsConflict() {
	blobs := &alwaysTaken{}
	_, err := NewAllocator(s.sanitizer, blobs, WithMaxAttempts(3)).Allocate(s.ctx, "a.pdf")
	s.Require().ErrorIs(err, sentinel.ErrConflict)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(3, blobs.calls)
}

func (s *AllocatorSuite) TestPropagatesStoreFailure() {
	boom := errors.New("s3 down")
	s.blobs.err = boom
	_, err := NewAllocator(s.sanitizer, s.blobs).Allocate(s.ctx, "a.pdf")
	s.Require().ErrorIs(err, boom)
}

func (s *AllocatorSuite) TestPropagatesReserverFailure() {
	boom := errors.New("redis down")
	_, err := NewAllocator(s.sanitizer, s.blobs, WithReserver(&fakeReserver{err: boom})).Allocate(s.ctx, "a.pdf")
	s.Require().ErrorIs(err, boom)
}

type alwaysTaken struct{ calls int }

func (a *alwaysTaken) Exists(context.Context, string) (bool, error) {
	a.calls++
	return true, nil
}
