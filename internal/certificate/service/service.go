// Package service is the certificate request lifecycle: submission,
// reviewer decisions with stamping, and the read-only query surface.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/metrics"
	"certifier/internal/certificate/models"
	"certifier/pkg/attrs"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/audit"
	"certifier/pkg/requestcontext"
)

// Repository persists certificate requests. UpdateIfStatus must apply
// mutate atomically and only while the stored status equals expected,
// returning sentinel.ErrConflict otherwise.
type Repository interface {
	Create(ctx context.Context, r *models.CertificateRequest) error
	FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error)
	Find(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error)
	UpdateIfStatus(ctx context.Context, requestID id.CertificateRequestID, expected models.Status, mutate func(r *models.CertificateRequest) error) (*models.CertificateRequest, error)
}

// BlobStore holds uploaded originals and stamped derivatives.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Stamper renders the verification ticket and returns the derived key.
type Stamper interface {
	Stamp(ctx context.Context, sourceKey string, requestID id.CertificateRequestID) (string, error)
}

// KeyAllocator turns an upload filename into an unused storage key.
type KeyAllocator interface {
	Allocate(ctx context.Context, original string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates certificate requests.
type Service struct {
	requests       Repository
	blobs          BlobStore
	stamper        Stamper
	keys           KeyAllocator
	lister         blob.Lister
	maxUploadBytes int64
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes = 5 * 1024 * 1024

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithFileLister enables ListFiles.
func WithFileLister(l blob.Lister) Option {
	return func(s *Service) {
		s.lister = l
	}
}

func New(requests Repository, blobs BlobStore, stamper Stamper, keys KeyAllocator, opts ...Option) *Service {
	s := &Service{
		requests:       requests,
		blobs:          blobs,
		stamper:        stamper,
		keys:           keys,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
		tracer:         otel.Tracer("certifier/certificate"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logAudit writes an audit log line and forwards the event to the audit
// publisher when one is configured. Publisher failures are logged only.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, r *models.CertificateRequest, reason string) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.UserID(ctx)
	actorID := ""
	if !actor.IsNil() {
		actorID = actor.String()
	}

	attributes := []any{
		"certificate_request_id", r.ID,
		"user_id", r.ApplicantID,
		"actor_id", actorID,
		"status", string(r.Status),
	}
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if s.logger != nil {
		args := append(attributes, "event", string(event), "log_type", "audit")
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:    r.ApplicantID,
		Subject:   attrs.ExtractString(attributes, "certificate_request_id"),
		Action:    string(event),
		Decision:  attrs.ExtractString(attributes, "status"),
		Reason:    reason,
		RequestID: attrs.ExtractString(attributes, "request_id"),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
