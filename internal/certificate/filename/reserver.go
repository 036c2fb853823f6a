package filename

import (
	"context"
	"sync"
	"time"
)

// DefaultReservationTTL outlives any single upload write.
const DefaultReservationTTL = 10 * time.Minute

// LocalReserver claims keys within one process. Allocators use it when no
// cross-process Reserver is configured.
type LocalReserver struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	reserved map[string]time.Time
}

func NewLocalReserver(ttl time.Duration) *LocalReserver {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &LocalReserver{ttl: ttl, now: time.Now, reserved: make(map[string]time.Time)}
}

func (r *LocalReserver) Reserve(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, expires := range r.reserved {
		if !now.Before(expires) {
			delete(r.reserved, k)
		}
	}
	if _, taken := r.reserved[key]; taken {
		return false, nil
	}
	r.reserved[key] = now.Add(r.ttl)
	return true, nil
}
