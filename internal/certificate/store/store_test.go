package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
)

type repository interface {
	Create(ctx context.Context, r *models.CertificateRequest) error
	FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error)
	Find(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error)
	UpdateIfStatus(ctx context.Context, requestID id.CertificateRequestID, expected models.Status, mutate Mutator) (*models.CertificateRequest, error)
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// RepositorySuite runs the repository contract against in-process backends.
type RepositorySuite struct {
	suite.Suite
	ctx   context.Context
	newFn func(t *testing.T) repository
	store repository
	base  time.Time
}

func TestInMemoryRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newFn: func(*testing.T) repository { return NewInMemory() }})
}

func TestSQLiteRepository(t *testing.T) {
	suite.Run(t, &RepositorySuite{newFn: func(t *testing.T) repository {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "certifier.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}})
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newFn(s.T())
	s.base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RepositorySuite) newRequest(applicant id.UserID, createdAt time.Time) *models.CertificateRequest {
	r, err := models.NewCertificateRequest(
		id.CertificateRequestID(uuid.New()), applicant,
		"Ada Lovelace", "ada@example.com", "Birth Certificate", "1_doc.pdf", createdAt,
	)
	s.Require().NoError(err)
	return r
}

func (s *RepositorySuite) TestCreateAndFindByID() {
	r := s.newRequest(id.UserID(uuid.New()), s.base)
	s.Require().NoError(s.store.Create(s.ctx, r))

	found, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(r.ID, found.ID)
	s.Equal(r.ApplicantID, found.ApplicantID)
	s.Equal("Ada Lovelace", found.ApplicantName)
	s.Equal("1_doc.pdf", found.DocumentKey)
	s.Equal("1_doc.pdf", found.OriginalKey)
	s.Equal(models.StatusPending, found.Status)
	s.Nil(found.IssuedDate)
	s.True(r.CreatedAt.Equal(found.CreatedAt))

	s.Run("duplicate id is rejected", func() {
		s.ErrorIs(s.store.Create(s.ctx, r), sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, id.CertificateRequestID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RepositorySuite) TestFindFiltersAndOrdersNewestFirst() {
	alice := id.UserID(uuid.New())
	bob := id.UserID(uuid.New())
	oldest := s.newRequest(alice, s.base)
	middle := s.newRequest(bob, s.base.Add(time.Hour))
	newest := s.newRequest(alice, s.base.Add(2*time.Hour))
	for _, r := range []*models.CertificateRequest{middle, oldest, newest} {
		s.Require().NoError(s.store.Create(s.ctx, r))
	}
	_, err := s.store.UpdateIfStatus(s.ctx, middle.ID, models.StatusPending, func(r *models.CertificateRequest) error {
		r.ApplyStatus(models.StatusRejected, "blurry scan", s.base.Add(3*time.Hour))
		return nil
	})
	s.Require().NoError(err)

	all, err := s.store.Find(s.ctx, models.Filter{})
	s.Require().NoError(err)
	s.Equal([]id.CertificateRequestID{newest.ID, middle.ID, oldest.ID}, ids(all))

	pending, err := s.store.Find(s.ctx, models.Filter{Statuses: []models.Status{models.StatusPending}})
	s.Require().NoError(err)
	s.Equal([]id.CertificateRequestID{newest.ID, oldest.ID}, ids(pending))

	forAlice, err := s.store.Find(s.ctx, models.Filter{ApplicantID: alice})
	s.Require().NoError(err)
	s.Equal([]id.CertificateRequestID{newest.ID, oldest.ID}, ids(forAlice))

	none, err := s.store.Find(s.ctx, models.Filter{ApplicantID: bob, Statuses: []models.Status{models.StatusApproved}})
	s.Require().NoError(err)
	s.Empty(none)

	counts, err := s.store.CountByStatus(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, counts[models.StatusPending])
	s.Equal(1, counts[models.StatusRejected])
	s.Equal(0, counts[models.StatusApproved])
}

func (s *RepositorySuite) TestUpdateIfStatus() {
	r := s.newRequest(id.UserID(uuid.New()), s.base)
	s.Require().NoError(s.store.Create(s.ctx, r))
	approvedAt := s.base.Add(time.Hour)

	s.Run("applies mutation when status matches", func() {
		updated, err := s.store.UpdateIfStatus(s.ctx, r.ID, models.StatusPending, func(r *models.CertificateRequest) error {
			r.ApplyApproval("verified_1_doc.pdf", "", approvedAt)
			return nil
		})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, updated.Status)
		s.Equal("verified_1_doc.pdf", updated.DocumentKey)
		s.Equal(models.DefaultApprovalRemarks, updated.Remarks)

		stored, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, stored.Status)
		s.Equal("verified_1_doc.pdf", stored.DocumentKey)
		s.Equal("1_doc.pdf", stored.OriginalKey)
		s.Require().NotNil(stored.IssuedDate)
		s.True(approvedAt.Equal(*stored.IssuedDate))
	})

	s.Run("conflicts when status moved on", func() {
		called := false
		_, err := s.store.UpdateIfStatus(s.ctx, r.ID, models.StatusPending, func(*models.CertificateRequest) error {
			called = true
			return nil
		})
		s.ErrorIs(err, sentinel.ErrConflict)
		s.False(called)
	})

	s.Run("mutator error aborts without writing", func() {
		other := s.newRequest(id.UserID(uuid.New()), s.base)
		s.Require().NoError(s.store.Create(s.ctx, other))
		boom := errors.New("boom")
		_, err := s.store.UpdateIfStatus(s.ctx, other.ID, models.StatusPending, func(r *models.CertificateRequest) error {
			r.Status = models.StatusRejected
			return boom
		})
		s.ErrorIs(err, boom)
		stored, err := s.store.FindByID(s.ctx, other.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, stored.Status)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.UpdateIfStatus(s.ctx, id.CertificateRequestID(uuid.New()), models.StatusPending,
			func(*models.CertificateRequest) error { return nil })
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentApprovalsSingleWinner verifies only one of many racing
// conditional updates from pending commits.
func (s *RepositorySuite) TestConcurrentApprovalsSingleWinner() {
	r := s.newRequest(id.UserID(uuid.New()), s.base)
	s.Require().NoError(s.store.Create(s.ctx, r))

	const goroutines = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.UpdateIfStatus(s.ctx, r.ID, models.StatusPending, func(r *models.CertificateRequest) error {
				r.ApplyApproval("verified_1_doc.pdf", "", time.Now())
				return nil
			})
			if err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), winners.Load())
}

func ids(rs []*models.CertificateRequest) []id.CertificateRequestID {
	out := make([]id.CertificateRequestID, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
