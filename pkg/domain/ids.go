package domain

import (
	"github.com/google/uuid"

	dErrors "certifier/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct type so a UserID can never be passed
// where a CertificateRequestID is expected.
type (
	UserID               uuid.UUID
	CertificateRequestID uuid.UUID
)

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id CertificateRequestID) String() string { return uuid.UUID(id).String() }
func (id CertificateRequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewCertificateRequestID generates a random request identifier.
func NewCertificateRequestID() CertificateRequestID {
	return CertificateRequestID(uuid.New())
}

// ParseUserID parses s at a trust boundary. Empty, malformed and nil UUIDs are rejected.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

// ParseCertificateRequestID parses s at a trust boundary. Empty, malformed and nil UUIDs are rejected.
func ParseCertificateRequestID(s string) (CertificateRequestID, error) {
	u, err := parseUUID(s, "certificate request ID")
	return CertificateRequestID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
