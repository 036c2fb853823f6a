package service

import (
	"context"
	"errors"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certifier/internal/certificate/models"
	"certifier/internal/certificate/stamp"
	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/audit"
	"certifier/pkg/platform/sentinel"
	"certifier/pkg/requestcontext"
)

// DecideCommand is a reviewer decision. Empty Remarks keep the current
// remarks, except on approval where they default to "Approved".
type DecideCommand struct {
	RequestID id.CertificateRequestID
	Status    string
	Remarks   string
}

// Decide applies a reviewer decision. Approval stamps the current document
// under a fresh key and then commits that key, status and issue date in a
// single conditional update against the status that was read, so two racing
// approvals cannot both commit and the loser's rendition is never referenced. The loser re-reads the request and reports
// AlreadyApproved (or a conflict when the state moved elsewhere).
func (s *Service) Decide(ctx context.Context, cmd DecideCommand) (_ *models.CertificateRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Decide", trace.WithAttributes(
		attribute.String("certificate_request_id", cmd.RequestID.String()),
		attribute.String("target_status", cmd.Status),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.IncDecision(statusLabel(cmd.Status), string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	target, err := models.ParseStatus(cmd.Status)
	if err != nil {
		return nil, err
	}

	current, err := s.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := current.CanDecide(target); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var mutate func(r *models.CertificateRequest) error
	var verifiedKey string
	if target == models.StatusApproved {
		verifiedKey, err = s.stampCurrent(ctx, current)
		if err != nil {
			return nil, err
		}
		mutate = func(r *models.CertificateRequest) error {
			r.ApplyApproval(verifiedKey, cmd.Remarks, now)
			return nil
		}
	} else {
		mutate = func(r *models.CertificateRequest) error {
			r.ApplyStatus(target, cmd.Remarks, now)
			return nil
		}
	}

	updated, err := s.requests.UpdateIfStatus(ctx, current.ID, current.Status, mutate)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			if verifiedKey != "" && s.logger != nil {
				s.logger.InfoContext(ctx, "stamped document left unreferenced after lost decision race",
					"certificate_request_id", current.ID.String(),
					"document_key", verifiedKey,
				)
			}
			return nil, s.resolveConflict(ctx, current, target, cmd.Remarks)
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "certificate request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update certificate request")
	}

	s.metrics.IncDecision(string(target), "ok")
	s.logAudit(ctx, decisionEvent(current.Status, target), updated, cmd.Remarks)
	if target == models.StatusApproved {
		s.logAudit(ctx, audit.EventDocumentStamped, updated, updated.DocumentKey)
	}
	return updated, nil
}

// stampCurrent verifies the authoritative document exists and stamps it.
func (s *Service) stampCurrent(ctx context.Context, current *models.CertificateRequest) (string, error) {
	sourceKey := path.Base(current.DocumentKey)
	exists, err := s.blobs.Exists(ctx, sourceKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to check source document")
	}
	if !exists {
		return "", dErrors.Wrap(stamp.ErrSourceNotFound, dErrors.CodeNotFound, "source document not found")
	}

	start := time.Now()
	verifiedKey, err := s.stamper.Stamp(ctx, sourceKey, current.ID)
	s.metrics.ObserveStampLatency(time.Since(start))
	if err != nil {
		return "", translateStampError(err)
	}
	return verifiedKey, nil
}

// resolveConflict re-evaluates the decision guard against the state that won
// the race. It never stamps or writes.
func (s *Service) resolveConflict(ctx context.Context, stale *models.CertificateRequest, target models.Status, remarks string) error {
	s.metrics.IncDecisionConflict()
	s.logAudit(ctx, audit.EventDecisionConflict, stale, remarks)

	latest, err := s.load(ctx, stale.ID)
	if err != nil {
		return err
	}
	if err := latest.CanDecide(target); err != nil {
		return err
	}
	return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict,
		"certificate request was modified concurrently, retry the decision")
}

func (s *Service) load(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	r, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "certificate request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate request")
	}
	return r, nil
}

func translateStampError(err error) error {
	switch {
	case errors.Is(err, stamp.ErrSourceNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "source document not found")
	case errors.Is(err, stamp.ErrAssetMissing):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "stamp asset missing")
	case errors.Is(err, stamp.ErrRender):
		return dErrors.Wrap(err, dErrors.CodeInternal, "document could not be stamped")
	case errors.Is(err, stamp.ErrBlobWrite):
		return dErrors.Wrap(err, dErrors.CodeInternal, "stamped document could not be stored")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "stamping failed")
	}
}

func decisionEvent(from, to models.Status) audit.AuditEvent {
	switch {
	case to == models.StatusApproved:
		return audit.EventRequestApproved
	case from == to:
		return audit.EventRemarksAmended
	case to == models.StatusRejected:
		return audit.EventRequestRejected
	default:
		return audit.EventRequestReopened
	}
}

// statusLabel bounds metric label values to the known statuses.
func statusLabel(raw string) string {
	if st, err := models.ParseStatus(raw); err == nil {
		return string(st)
	}
	return "invalid"
}
