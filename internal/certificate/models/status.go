package models

import (
	"strings"

	dErrors "certifier/pkg/domain-errors"
)

// Status is the lifecycle state of a certificate request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a target status before any side effect runs.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	case "":
		return "", dErrors.Wrap(ErrInvalidStatus, dErrors.CodeValidation, "status is required")
	default:
		return "", dErrors.Wrap(ErrInvalidStatus, dErrors.CodeValidation, "status must be one of pending, approved, rejected")
	}
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// IsTerminal reports whether no reviewer decision can move the request on.
func (s Status) IsTerminal() bool { return s == StatusApproved }

// CanTransitionTo reports whether a reviewer decision may move s to target.
//
//	pending  -> pending (remarks amend), approved, rejected
//	rejected -> pending (reopen), rejected (remarks amend)
//	approved -> (none)
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target.IsValid()
	case StatusRejected:
		return target == StatusPending || target == StatusRejected
	default:
		return false
	}
}
