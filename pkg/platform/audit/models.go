package audit

import (
	"context"
	"time"

	id "certifier/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance,
	// such as a reviewer issuing or refusing a certificate.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring,
	// such as lost approval races and forbidden access attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// UserID is the applicant the event concerns.
	UserID   id.UserID
	Subject  string
	Action   string
	Decision string
	Reason   string
	// RequestID is the correlation id from the HTTP request context.
	RequestID string
	// ActorID tracks who performed the action when different from UserID,
	// e.g. the reviewer deciding on an applicant's request.
	ActorID string
}

type AuditEvent string

const (
	EventRequestSubmitted AuditEvent = "certificate_request_submitted"
	EventRequestApproved  AuditEvent = "certificate_request_approved"
	EventRequestRejected  AuditEvent = "certificate_request_rejected"
	EventRequestReopened  AuditEvent = "certificate_request_reopened"
	EventRemarksAmended   AuditEvent = "certificate_request_remarks_amended"
	EventDocumentStamped  AuditEvent = "document_stamped"
	EventDecisionConflict AuditEvent = "decision_conflict"
	EventDocumentAccessed AuditEvent = "document_accessed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRequestApproved: CategoryCompliance,
	EventRequestRejected: CategoryCompliance,
	EventRequestReopened: CategoryCompliance,
	EventRemarksAmended:  CategoryCompliance,
	EventDocumentStamped: CategoryCompliance,

	EventDecisionConflict: CategorySecurity,

	EventRequestSubmitted: CategoryOperations,
	EventDocumentAccessed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
