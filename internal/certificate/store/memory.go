// Package store persists certificate requests. Every backend implements the
// same conditional-update contract so concurrent decisions on one request
// serialize on its current status.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
)

// Mutator edits a copy of the current record inside a conditional update.
// Returning an error aborts the update without writing.
type Mutator = func(r *models.CertificateRequest) error

// InMemory keeps requests in a map guarded by a mutex.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.CertificateRequestID]*models.CertificateRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.CertificateRequestID]*models.CertificateRequest)}
}

func (s *InMemory) Create(_ context.Context, r *models.CertificateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("certificate request %s: %w", r.ID, sentinel.ErrAlreadyUsed)
	}
	s.requests[r.ID] = clone(r)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("certificate request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return clone(r), nil
}

// Find returns matching requests, most recently created first.
func (s *InMemory) Find(_ context.Context, filter models.Filter) ([]*models.CertificateRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CertificateRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if filter.Matches(r) {
			out = append(out, clone(r))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// UpdateIfStatus applies mutate only while the stored status equals expected.
func (s *InMemory) UpdateIfStatus(_ context.Context, requestID id.CertificateRequestID, expected models.Status, mutate Mutator) (*models.CertificateRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("certificate request %s: %w", requestID, sentinel.ErrNotFound)
	}
	if current.Status != expected {
		return nil, fmt.Errorf("certificate request %s is %s, expected %s: %w",
			requestID, current.Status, expected, sentinel.ErrConflict)
	}
	next := clone(current)
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.requests[requestID] = next
	return clone(next), nil
}

// CountByStatus returns the number of requests per status.
func (s *InMemory) CountByStatus(_ context.Context) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Status]int, 3)
	for _, r := range s.requests {
		counts[r.Status]++
	}
	return counts, nil
}

func clone(r *models.CertificateRequest) *models.CertificateRequest {
	c := *r
	if r.IssuedDate != nil {
		issued := *r.IssuedDate
		c.IssuedDate = &issued
	}
	return &c
}

func sortNewestFirst(rs []*models.CertificateRequest) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID.String() > rs[j].ID.String()
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}
