package handler

import (
	"strings"

	"certifier/internal/certificate/models"
	dErrors "certifier/pkg/domain-errors"
	platformstrings "certifier/pkg/platform/strings"
)

// maxRemarksLength bounds reviewer remarks.
const maxRemarksLength = 2000

// DecideRequest is the HTTP request body for PUT /certificates/{id}.
type DecideRequest struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

// Validate normalizes and checks the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *DecideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Remarks) > maxRemarksLength {
		return dErrors.New(dErrors.CodeValidation, "remarks must be at most 2000 characters")
	}
	r.Remarks = strings.TrimSpace(r.Remarks)
	status, err := models.ParseStatus(r.Status)
	if err != nil {
		return err
	}
	r.Status = string(status)
	return nil
}

// parseStatusFilter turns "approved, Rejected,approved" into a filter over
// the distinct statuses named.
func parseStatusFilter(raw string) (models.Filter, error) {
	var filter models.Filter
	for _, v := range platformstrings.DedupeAndTrimLower(strings.Split(raw, ",")) {
		status, err := models.ParseStatus(v)
		if err != nil {
			return models.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}
