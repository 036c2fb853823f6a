package handler

import (
	"time"

	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/models"
)

// CertificateResponse is the HTTP view of a certificate request.
type CertificateResponse struct {
	ID              string     `json:"id"`
	ApplicantID     string     `json:"applicant_id"`
	ApplicantName   string     `json:"applicant_name"`
	ApplicantEmail  string     `json:"applicant_email"`
	CertificateType string     `json:"certificate_type"`
	DocumentKey     string     `json:"document_key"`
	DocumentURL     string     `json:"document_url"`
	Status          string     `json:"status"`
	Remarks         string     `json:"remarks"`
	IssuedDate      *time.Time `json:"issued_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ListResponse struct {
	Requests []CertificateResponse `json:"requests"`
}

type SubmitResponse struct {
	Message string              `json:"message"`
	Request CertificateResponse `json:"request"`
}

type DecideResponse struct {
	Message string              `json:"message"`
	Request CertificateResponse `json:"request"`
}

type FileResponse struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type FilesResponse struct {
	Files []FileResponse `json:"files"`
}

// FromRequest converts a domain request to its HTTP view.
func FromRequest(r *models.CertificateRequest) CertificateResponse {
	return CertificateResponse{
		ID:              r.ID.String(),
		ApplicantID:     r.ApplicantID.String(),
		ApplicantName:   r.ApplicantName,
		ApplicantEmail:  r.ApplicantEmail,
		CertificateType: r.CertificateType,
		DocumentKey:     r.DocumentKey,
		DocumentURL:     "/certificates/" + r.ID.String() + "/document",
		Status:          string(r.Status),
		Remarks:         r.Remarks,
		IssuedDate:      r.IssuedDate,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// FromRequests keeps the repository order (newest first).
func FromRequests(rs []*models.CertificateRequest) ListResponse {
	out := ListResponse{Requests: make([]CertificateResponse, 0, len(rs))}
	for _, r := range rs {
		out.Requests = append(out.Requests, FromRequest(r))
	}
	return out
}

func FromObjects(objects []blob.Object) FilesResponse {
	out := FilesResponse{Files: make([]FileResponse, 0, len(objects))}
	for _, o := range objects {
		out.Files = append(out.Files, FileResponse{Key: o.Key, Size: o.Size, ModifiedAt: o.ModTime})
	}
	return out
}
