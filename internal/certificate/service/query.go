package service

import (
	"context"
	"errors"

	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/audit"
	"certifier/pkg/platform/sentinel"
)

// List returns requests matching filter, most recently created first.
func (s *Service) List(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error) {
	requests, err := s.requests.Find(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificate requests")
	}
	return requests, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*models.CertificateRequest, error) {
	return s.List(ctx, models.Filter{})
}

func (s *Service) ListPending(ctx context.Context) ([]*models.CertificateRequest, error) {
	return s.List(ctx, models.Filter{Statuses: []models.Status{models.StatusPending}})
}

func (s *Service) ListByApplicant(ctx context.Context, applicantID id.UserID) ([]*models.CertificateRequest, error) {
	if applicantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "applicant identity is required")
	}
	return s.List(ctx, models.Filter{ApplicantID: applicantID})
}

func (s *Service) Get(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	return s.load(ctx, requestID)
}

// ResolveDownloadKey returns the request's current authoritative document key.
func (s *Service) ResolveDownloadKey(ctx context.Context, requestID id.CertificateRequestID) (string, error) {
	r, err := s.load(ctx, requestID)
	if err != nil {
		return "", err
	}
	return r.DocumentKey, nil
}

// Document is the authoritative rendition of a request's upload.
type Document struct {
	Key     string
	Content []byte
}

// OpenDocument loads the authoritative document bytes for r.
func (s *Service) OpenDocument(ctx context.Context, r *models.CertificateRequest) (*Document, error) {
	data, err := s.blobs.Read(ctx, r.DocumentKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "document not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read document")
	}
	s.logAudit(ctx, audit.EventDocumentAccessed, r, r.DocumentKey)
	return &Document{Key: r.DocumentKey, Content: data}, nil
}

// ListFiles enumerates stored blobs for reviewers.
func (s *Service) ListFiles(ctx context.Context) ([]blob.Object, error) {
	if s.lister == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "file listing is not supported by the blob backend")
	}
	objects, err := s.lister.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list stored files")
	}
	return objects, nil
}
