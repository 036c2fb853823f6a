// Package notify tells applicants about reviewer decisions. Delivery is
// best effort: callers log failures and never roll back a decision.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"certifier/internal/certificate/models"
	"certifier/pkg/email"
)

// noRemarks is written when a decision carries no remarks.
const noRemarks = "No additional remarks."

// Message is a decision notification addressed to an applicant.
type Message struct {
	RequestID   string    `json:"certificate_request_id"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Status      string    `json:"status"`
	DocumentKey string    `json:"document_key,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Notifier delivers decision messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// DecisionMessage builds the notification for a committed decision.
// Approved requests carry the verified document key as the attachment
// reference.
func DecisionMessage(r *models.CertificateRequest) Message {
	status := strings.ToUpper(string(r.Status))
	remarks := strings.TrimSpace(r.Remarks)
	if remarks == "" {
		remarks = noRemarks
	}

	msg := Message{
		RequestID: r.ID.String(),
		To:        r.ApplicantEmail,
		Subject:   "Certificate Request " + status,
		Body: fmt.Sprintf("Hello %s,\n\nYour certificate request has been %s.\n\nRemarks: %s\n\nBest regards,\nCertificate Issuance System",
			email.DisplayName(r.ApplicantName, r.ApplicantEmail), status, remarks),
		Status:    string(r.Status),
		DecidedAt: r.UpdatedAt,
	}
	if r.IsApproved() {
		msg.DocumentKey = r.DocumentKey
	}
	return msg
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "decision notification",
		"certificate_request_id", msg.RequestID,
		"to", msg.To,
		"subject", msg.Subject,
		"status", msg.Status,
		"document_key", msg.DocumentKey,
	)
	return nil
}
