package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/audit"
	"certifier/pkg/platform/sentinel"
	"certifier/pkg/requestcontext"
)

const pdfContentType = "application/pdf"

// SubmitCommand carries an applicant's upload. Name and email are a snapshot
// from the identity provider at submission time.
type SubmitCommand struct {
	ApplicantID      id.UserID
	ApplicantName    string
	ApplicantEmail   string
	CertificateType  string
	OriginalFilename string
	Content          []byte
}

// Validate checks the command before any storage is touched.
func (c *SubmitCommand) Validate(maxBytes int64) error {
	if c.ApplicantID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "applicant identity is required")
	}
	if strings.TrimSpace(c.ApplicantName) == "" || strings.TrimSpace(c.ApplicantEmail) == "" {
		return dErrors.New(dErrors.CodeValidation, "applicant name and email are required")
	}
	certType := strings.TrimSpace(c.CertificateType)
	if certType == "" {
		return dErrors.New(dErrors.CodeValidation, "certificate type is required")
	}
	if len(certType) > 128 {
		return dErrors.New(dErrors.CodeValidation, "certificate type must be 128 characters or less")
	}
	if len(c.Content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "document upload is required")
	}
	if int64(len(c.Content)) > maxBytes {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("document exceeds the %d byte limit", maxBytes))
	}
	if http.DetectContentType(c.Content) != pdfContentType {
		return dErrors.New(dErrors.CodeValidation, "only PDF files are allowed")
	}
	return nil
}

// Submit stores the upload under a fresh sanitized key and records a
// pending request pointing at it.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (_ *models.CertificateRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Submit", trace.WithAttributes(
		attribute.String("certificate_type", cmd.CertificateType),
		attribute.Int("upload_bytes", len(cmd.Content)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.IncSubmission(submissionOutcome(err))
		}
		span.End()
	}()

	if err := cmd.Validate(s.maxUploadBytes); err != nil {
		return nil, err
	}

	key, err := s.keys.Allocate(ctx, cmd.OriginalFilename)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "could not allocate a storage key, retry the upload")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate storage key")
	}

	request, err := models.NewCertificateRequest(
		id.CertificateRequestID(uuid.New()),
		cmd.ApplicantID,
		cmd.ApplicantName,
		cmd.ApplicantEmail,
		cmd.CertificateType,
		key,
		requestcontext.Now(ctx),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.blobs.Write(ctx, key, cmd.Content); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store document")
	}
	if err := s.requests.Create(ctx, request); err != nil {
		s.logger.ErrorContext(ctx, "stored document has no request record",
			"document_key", key, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create certificate request")
	}

	span.SetAttributes(attribute.String("certificate_request_id", request.ID.String()))
	s.metrics.IncSubmission("accepted")
	s.metrics.ObserveUploadBytes(len(cmd.Content))
	s.logAudit(ctx, audit.EventRequestSubmitted, request, "")
	return request, nil
}

func submissionOutcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeUnauthorized:
		return "rejected"
	default:
		return "failed"
	}
}
