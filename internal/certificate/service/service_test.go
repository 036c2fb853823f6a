package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Repository,BlobStore,Stamper,KeyAllocator,AuditPublisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certifier/internal/certificate/models"
	"certifier/internal/certificate/service/mocks"
	"certifier/internal/certificate/stamp"
	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/audit"
	"certifier/pkg/platform/sentinel"
	"certifier/pkg/requestcontext"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	repo     *mocks.MockRepository
	blobs    *mocks.MockBlobStore
	stamper  *mocks.MockStamper
	keys     *mocks.MockKeyAllocator
	auditPub *mocks.MockAuditPublisher
	svc      *Service
	ctx      context.Context
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.repo = mocks.NewMockRepository(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.stamper = mocks.NewMockStamper(s.ctrl)
	s.keys = mocks.NewMockKeyAllocator(s.ctrl)
	s.auditPub = mocks.NewMockAuditPublisher(s.ctrl)
	s.svc = New(s.repo, s.blobs, s.stamper, s.keys,
		WithAuditPublisher(s.auditPub),
		WithMaxUploadBytes(1024),
	)
	s.now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) pending() *models.CertificateRequest {
	r, err := models.NewCertificateRequest(
		id.CertificateRequestID(uuid.New()), id.UserID(uuid.New()),
		"Ada Lovelace", "ada@example.com", "Birth Certificate", "1714557600000000000_doc.pdf",
		s.now.Add(-time.Hour),
	)
	s.Require().NoError(err)
	return r
}

func approvedCopy(r *models.CertificateRequest, at time.Time) *models.CertificateRequest {
	c := *r
	c.ApplyApproval(models.VerifiedPrefix+r.DocumentKey, "", at)
	return &c
}

// applyMutation mimics a repository committing the mutator on a copy.
func applyMutation(current *models.CertificateRequest) func(context.Context, id.CertificateRequestID, models.Status, func(*models.CertificateRequest) error) (*models.CertificateRequest, error) {
	return func(_ context.Context, _ id.CertificateRequestID, expected models.Status, mutate func(*models.CertificateRequest) error) (*models.CertificateRequest, error) {
		if current.Status != expected {
			return nil, sentinel.ErrConflict
		}
		next := *current
		if err := mutate(&next); err != nil {
			return nil, err
		}
		return &next, nil
	}
}

func (s *ServiceSuite) TestSubmit() {
	valid := SubmitCommand{
		ApplicantID:      id.UserID(uuid.New()),
		ApplicantName:    "Ada Lovelace",
		ApplicantEmail:   "ada@example.com",
		CertificateType:  "Birth Certificate",
		OriginalFilename: "My Doc (1).pdf",
		Content:          pdfBytes,
	}

	s.Run("stores the upload and creates a pending request", func() {
		s.keys.EXPECT().Allocate(gomock.Any(), "My Doc (1).pdf").Return("42_My_Doc_1.pdf", nil)
		s.blobs.EXPECT().Write(gomock.Any(), "42_My_Doc_1.pdf", pdfBytes).Return(nil)
		s.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(string(audit.EventRequestSubmitted), e.Action)
			s.Equal(valid.ApplicantID, e.UserID)
			return nil
		})

		r, err := s.svc.Submit(s.ctx, valid)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, r.Status)
		s.Equal("42_My_Doc_1.pdf", r.DocumentKey)
		s.Equal("42_My_Doc_1.pdf", r.OriginalKey)
		s.Equal(s.now, r.CreatedAt)
		s.Nil(r.IssuedDate)
	})

	s.Run("rejects invalid uploads before touching storage", func() {
		cases := map[string]func(c *SubmitCommand){
			"missing type":  func(c *SubmitCommand) { c.CertificateType = "  " },
			"long type":     func(c *SubmitCommand) { c.CertificateType = string(bytes.Repeat([]byte("x"), 129)) },
			"empty content": func(c *SubmitCommand) { c.Content = nil },
			"not a pdf":     func(c *SubmitCommand) { c.Content = []byte("GIF89a....") },
			"too large":     func(c *SubmitCommand) { c.Content = append(append([]byte{}, pdfBytes...), make([]byte, 2048)...) },
			"missing email": func(c *SubmitCommand) { c.ApplicantEmail = "" },
		}
		for name, mutate := range cases {
			cmd := valid
			mutate(&cmd)
			_, err := s.svc.Submit(s.ctx, cmd)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "%s: %v", name, err)
		}
	})

	s.Run("anonymous caller is unauthorized", func() {
		cmd := valid
		cmd.ApplicantID = id.UserID{}
		_, err := s.svc.Submit(s.ctx, cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("key exhaustion is a conflict", func() {
		s.keys.EXPECT().Allocate(gomock.Any(), gomock.Any()).
			Return("", fmt.Errorf("exhausted: %w", sentinel.ErrConflict))
		_, err := s.svc.Submit(s.ctx, valid)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("blob write failure creates no record", func() {
		s.keys.EXPECT().Allocate(gomock.Any(), gomock.Any()).Return("1_a.pdf", nil)
		s.blobs.EXPECT().Write(gomock.Any(), "1_a.pdf", gomock.Any()).Return(errors.New("disk full"))
		_, err := s.svc.Submit(s.ctx, valid)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestDecide_InvalidStatusHasNoSideEffects() {
	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: id.CertificateRequestID(uuid.New()), Status: "archived"})
	s.ErrorIs(err, models.ErrInvalidStatus)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestDecide_NotFound() {
	requestID := id.CertificateRequestID(uuid.New())
	s.repo.EXPECT().FindByID(gomock.Any(), requestID).Return(nil, sentinel.ErrNotFound)

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: requestID, Status: "approved"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestDecide_AlreadyApprovedNeverRestamps() {
	approved := approvedCopy(s.pending(), s.now.Add(-time.Minute))
	s.repo.EXPECT().FindByID(gomock.Any(), approved.ID).Return(approved, nil)

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: approved.ID, Status: "approved"})
	s.ErrorIs(err, models.ErrAlreadyApproved)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestDecide_ApprovedIsTerminal() {
	approved := approvedCopy(s.pending(), s.now.Add(-time.Minute))
	for _, target := range []string{"pending", "rejected"} {
		s.repo.EXPECT().FindByID(gomock.Any(), approved.ID).Return(approved, nil)
		_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: approved.ID, Status: target})
		s.ErrorIs(err, models.ErrTerminalStatus, target)
	}
}

func (s *ServiceSuite) TestDecide_ApproveStampsThenCommits() {
	current := s.pending()
	verified := models.VerifiedPrefix + current.DocumentKey

	gomock.InOrder(
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil),
		s.blobs.EXPECT().Exists(gomock.Any(), current.DocumentKey).Return(true, nil),
		s.stamper.EXPECT().Stamp(gomock.Any(), current.DocumentKey, current.ID).Return(verified, nil),
		s.repo.EXPECT().UpdateIfStatus(gomock.Any(), current.ID, models.StatusPending, gomock.Any()).
			DoAndReturn(applyMutation(current)),
	)
	s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	updated, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "Approved", Remarks: "Looks good"})
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, updated.Status)
	s.Equal(verified, updated.DocumentKey)
	s.Equal(current.DocumentKey, updated.OriginalKey)
	s.Equal("Looks good", updated.Remarks)
	s.Require().NotNil(updated.IssuedDate)
	s.Equal(s.now, *updated.IssuedDate)
}

func (s *ServiceSuite) TestDecide_SourceMissingDoesNotStamp() {
	current := s.pending()
	s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil)
	s.blobs.EXPECT().Exists(gomock.Any(), current.DocumentKey).Return(false, nil)

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "approved"})
	s.ErrorIs(err, stamp.ErrSourceNotFound)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestDecide_StampFailuresLeaveRecordUntouched() {
	cases := []struct {
		err  error
		code dErrors.Code
	}{
		{fmt.Errorf("%w: bad xref", stamp.ErrRender), dErrors.CodeInternal},
		{fmt.Errorf("%w: font", stamp.ErrAssetMissing), dErrors.CodeNotFound},
		{fmt.Errorf("%w: s3", stamp.ErrBlobWrite), dErrors.CodeInternal},
	}
	for _, tc := range cases {
		current := s.pending()
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil)
		s.blobs.EXPECT().Exists(gomock.Any(), current.DocumentKey).Return(true, nil)
		s.stamper.EXPECT().Stamp(gomock.Any(), current.DocumentKey, current.ID).Return("", tc.err)

		_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "approved"})
		s.ErrorIs(err, tc.err)
		s.True(dErrors.HasCode(err, tc.code), "%v", err)
	}
}

func (s *ServiceSuite) TestDecide_LostRaceReportsAlreadyApproved() {
	current := s.pending()
	winner := approvedCopy(current, s.now)

	gomock.InOrder(
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil),
		s.blobs.EXPECT().Exists(gomock.Any(), current.DocumentKey).Return(true, nil),
		s.stamper.EXPECT().Stamp(gomock.Any(), current.DocumentKey, current.ID).Return(winner.DocumentKey, nil),
		s.repo.EXPECT().UpdateIfStatus(gomock.Any(), current.ID, models.StatusPending, gomock.Any()).
			Return(nil, fmt.Errorf("lost: %w", sentinel.ErrConflict)),
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(winner, nil),
	)
	s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(string(audit.EventDecisionConflict), e.Action)
		return nil
	})

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "approved"})
	s.ErrorIs(err, models.ErrAlreadyApproved)
}

func (s *ServiceSuite) TestDecide_LostRaceToOtherChangeIsConflict() {
	current := s.pending()

	gomock.InOrder(
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil),
		s.repo.EXPECT().UpdateIfStatus(gomock.Any(), current.ID, models.StatusPending, gomock.Any()).
			Return(nil, sentinel.ErrConflict),
		s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil),
	)
	s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "rejected"})
	s.ErrorIs(err, sentinel.ErrConflict)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestDecide_RejectKeepsRemarksWhenOmitted() {
	current := s.pending()
	current.Remarks = "earlier note"

	s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil)
	s.repo.EXPECT().UpdateIfStatus(gomock.Any(), current.ID, models.StatusPending, gomock.Any()).
		DoAndReturn(applyMutation(current))
	s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(string(audit.EventRequestRejected), e.Action)
		return nil
	})

	updated, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "rejected"})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, updated.Status)
	s.Equal("earlier note", updated.Remarks)
	s.Nil(updated.IssuedDate)
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailDecision() {
	current := s.pending()
	s.repo.EXPECT().FindByID(gomock.Any(), current.ID).Return(current, nil)
	s.repo.EXPECT().UpdateIfStatus(gomock.Any(), current.ID, models.StatusPending, gomock.Any()).
		DoAndReturn(applyMutation(current))
	s.auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit buffer full"))

	_, err := s.svc.Decide(s.ctx, DecideCommand{RequestID: current.ID, Status: "rejected", Remarks: "blurry"})
	s.NoError(err)
}

func (s *ServiceSuite) TestQueries() {
	applicant := id.UserID(uuid.New())
	s.repo.EXPECT().Find(gomock.Any(), models.Filter{Statuses: []models.Status{models.StatusPending}}).Return(nil, nil)
	s.repo.EXPECT().Find(gomock.Any(), models.Filter{ApplicantID: applicant}).Return(nil, nil)
	s.repo.EXPECT().Find(gomock.Any(), models.Filter{}).Return(nil, errors.New("db down"))

	_, err := s.svc.ListPending(s.ctx)
	s.NoError(err)
	_, err = s.svc.ListByApplicant(s.ctx, applicant)
	s.NoError(err)
	_, err = s.svc.ListAll(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.svc.ListByApplicant(s.ctx, id.UserID{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.svc.ListFiles(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestResolveDownloadKey() {
	approved := approvedCopy(s.pending(), s.now)
	s.repo.EXPECT().FindByID(gomock.Any(), approved.ID).Return(approved, nil)

	key, err := s.svc.ResolveDownloadKey(s.ctx, approved.ID)
	s.Require().NoError(err)
	s.Equal(approved.DocumentKey, key)
}
