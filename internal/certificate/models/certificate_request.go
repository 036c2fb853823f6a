package models

import (
	"slices"
	"strings"
	"time"

	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
)

// VerifiedPrefix marks blob keys of stamped derivatives.
const VerifiedPrefix = "verified_"

// DefaultApprovalRemarks is recorded when a reviewer approves without remarks.
const DefaultApprovalRemarks = "Approved"

// CertificateRequest is the aggregate root for a certification request.
//
// Invariants:
//   - Status is pending, approved or rejected
//   - Status == approved if and only if IssuedDate != nil
//   - Status == approved implies DocumentKey carries the verified_ prefix
//   - IssuedDate is set exactly once, when the request is approved
//   - ApplicantName and ApplicantEmail are a snapshot taken at submission
//     and are never refreshed from the identity source
//   - OriginalKey is immutable and always names the applicant's upload
//   - CreatedAt is immutable after construction
type CertificateRequest struct {
	ID              id.CertificateRequestID `json:"id"`
	ApplicantID     id.UserID               `json:"applicant_id"`
	ApplicantName   string                  `json:"applicant_name"`
	ApplicantEmail  string                  `json:"applicant_email"`
	CertificateType string                  `json:"certificate_type"`
	DocumentKey     string                  `json:"document_key"`
	OriginalKey     string                  `json:"original_key"`
	Status          Status                  `json:"status"`
	Remarks         string                  `json:"remarks"`
	IssuedDate      *time.Time              `json:"issued_date,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// NewCertificateRequest builds a pending request for a freshly stored upload.
func NewCertificateRequest(
	requestID id.CertificateRequestID,
	applicantID id.UserID,
	applicantName, applicantEmail, certificateType, documentKey string,
	now time.Time,
) (*CertificateRequest, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request id is required")
	}
	if applicantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "applicant id is required")
	}
	applicantName = strings.TrimSpace(applicantName)
	applicantEmail = strings.TrimSpace(applicantEmail)
	certificateType = strings.TrimSpace(certificateType)
	if applicantName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "applicant name is required")
	}
	if applicantEmail == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "applicant email is required")
	}
	if certificateType == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate type is required")
	}
	if len(certificateType) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "certificate type must be 128 characters or less")
	}
	if documentKey == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "document key is required")
	}
	return &CertificateRequest{
		ID:              requestID,
		ApplicantID:     applicantID,
		ApplicantName:   applicantName,
		ApplicantEmail:  applicantEmail,
		CertificateType: certificateType,
		DocumentKey:     documentKey,
		OriginalKey:     documentKey,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *CertificateRequest) IsApproved() bool {
	return r.Status == StatusApproved
}

// IsOwnedBy reports whether userID submitted the request.
func (r *CertificateRequest) IsOwnedBy(userID id.UserID) bool {
	return r.ApplicantID == userID
}

// CanDecide checks whether a reviewer decision to target is allowed from the
// current status. Approving an approved request fails with ErrAlreadyApproved
// so a stamped document is never stamped again.
func (r *CertificateRequest) CanDecide(target Status) error {
	if !target.IsValid() {
		return dErrors.Wrap(ErrInvalidStatus, dErrors.CodeValidation, "invalid target status")
	}
	if target == StatusApproved && r.Status == StatusApproved {
		return dErrors.Wrap(ErrAlreadyApproved, dErrors.CodeConflict, "certificate request is already approved")
	}
	if !r.Status.CanTransitionTo(target) {
		return dErrors.Wrap(ErrTerminalStatus, dErrors.CodeConflict,
			"cannot move certificate request from "+string(r.Status)+" to "+string(target))
	}
	return nil
}

// ApplyApproval points the request at its stamped derivative and marks it
// approved. Call CanDecide first and only after the derivative is stored.
func (r *CertificateRequest) ApplyApproval(verifiedKey, remarks string, now time.Time) {
	if strings.TrimSpace(remarks) == "" {
		remarks = DefaultApprovalRemarks
	}
	issued := now
	r.DocumentKey = verifiedKey
	r.Status = StatusApproved
	r.Remarks = remarks
	r.IssuedDate = &issued
	r.UpdatedAt = now
}

// ApplyStatus records a non-approval decision. Empty remarks keep the
// previous value; IssuedDate is untouched.
func (r *CertificateRequest) ApplyStatus(target Status, remarks string, now time.Time) {
	r.Status = target
	if strings.TrimSpace(remarks) != "" {
		r.Remarks = remarks
	}
	r.UpdatedAt = now
}

// Filter narrows repository queries. Zero values match everything.
type Filter struct {
	// Statuses matches any of the listed statuses.
	Statuses    []Status
	ApplicantID id.UserID
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r *CertificateRequest) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if !f.ApplicantID.IsNil() && r.ApplicantID != f.ApplicantID {
		return false
	}
	return true
}
