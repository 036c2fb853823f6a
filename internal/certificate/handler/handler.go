package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/models"
	"certifier/internal/certificate/notify"
	"certifier/internal/certificate/service"
	id "certifier/pkg/domain"
	dErrors "certifier/pkg/domain-errors"
	"certifier/pkg/platform/httputil"
	"certifier/pkg/platform/middleware/auth"
	"certifier/pkg/requestcontext"
)

// multipartOverhead is allowed on top of the document size for form fields
// and part headers.
const multipartOverhead = 1 << 20

// defaultNotifyTimeout bounds post-commit notification.
const defaultNotifyTimeout = 15 * time.Second

// Service defines the certificate operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, cmd service.SubmitCommand) (*models.CertificateRequest, error)
	Decide(ctx context.Context, cmd service.DecideCommand) (*models.CertificateRequest, error)
	Get(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error)
	List(ctx context.Context, filter models.Filter) ([]*models.CertificateRequest, error)
	ListAll(ctx context.Context) ([]*models.CertificateRequest, error)
	ListPending(ctx context.Context) ([]*models.CertificateRequest, error)
	ListByApplicant(ctx context.Context, applicantID id.UserID) ([]*models.CertificateRequest, error)
	OpenDocument(ctx context.Context, r *models.CertificateRequest) (*service.Document, error)
	ListFiles(ctx context.Context) ([]blob.Object, error)
}

// Handler wires certificate endpoints to the lifecycle service.
type Handler struct {
	service        Service
	notifier       notify.Notifier
	logger         *slog.Logger
	maxUploadBytes int64
	notifyTimeout  time.Duration
}

// New constructs a certificate handler. A nil notifier disables decision
// notifications.
func New(svc Service, notifier notify.Notifier, logger *slog.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = service.DefaultMaxUploadBytes
	}
	return &Handler{
		service:        svc,
		notifier:       notifier,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		notifyTimeout:  defaultNotifyTimeout,
	}
}

// Register mounts certificate endpoints on the router. Callers must install
// auth.RequireAuth ahead of it.
func (h *Handler) Register(r chi.Router) {
	reviewer := auth.RequireRole(id.RoleReviewer, h.logger)

	r.Route("/certificates", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/user", h.HandleListMine)
		r.Get("/pending", h.HandleListPending)
		r.With(reviewer).Get("/all", h.HandleListAll)
		r.With(reviewer).Get("/files", h.HandleListFiles)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/document", h.HandleDocument)
		r.With(reviewer).Put("/{id}", h.HandleDecide)
	})
}

// HandleSubmit handles POST /certificates (multipart: document, certificate_type).
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller := requestcontext.Identity(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.logger.WarnContext(ctx, "invalid upload form",
			"request_id", requestID,
			"error", err,
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "document exceeds the upload size limit"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("document")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "document upload is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read document"))
		return
	}

	created, err := h.service.Submit(ctx, service.SubmitCommand{
		ApplicantID:      caller.UserID,
		ApplicantName:    caller.Name,
		ApplicantEmail:   caller.Email,
		CertificateType:  r.FormValue("certificate_type"),
		OriginalFilename: header.Filename,
		Content:          content,
	})
	if err != nil {
		h.logFailure(ctx, "certificate submission failed", err, "user_id", caller.UserID)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate request submitted",
		"request_id", requestID,
		"certificate_request_id", created.ID,
		"user_id", caller.UserID,
	)
	httputil.WriteJSON(w, http.StatusCreated, SubmitResponse{
		Message: "Certificate request submitted",
		Request: FromRequest(created),
	})
}

// HandleListMine handles GET /certificates/user.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.service.ListByApplicant(ctx, requestcontext.UserID(ctx))
	h.writeList(w, r, requests, err)
}

// HandleListPending handles GET /certificates/pending.
func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListPending(r.Context())
	h.writeList(w, r, requests, err)
}

// HandleListAll handles GET /certificates/all. An optional comma-separated
// status query narrows the result, e.g. ?status=approved,rejected.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		requests, err := h.service.ListAll(r.Context())
		h.writeList(w, r, requests, err)
		return
	}
	filter, err := parseStatusFilter(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	requests, err := h.service.List(r.Context(), filter)
	h.writeList(w, r, requests, err)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, requests []*models.CertificateRequest, err error) {
	if err != nil {
		h.logFailure(r.Context(), "failed to list certificate requests", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequests(requests))
}

// HandleListFiles handles GET /certificates/files.
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	files, err := h.service.ListFiles(ctx)
	if err != nil {
		h.logFailure(ctx, "failed to list stored files", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromObjects(files))
}

// HandleGet handles GET /certificates/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	request, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(request))
}

// HandleDocument handles GET /certificates/{id}/document and streams the
// request's authoritative rendition.
func (h *Handler) HandleDocument(w http.ResponseWriter, r *http.Request) {
	request, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	doc, err := h.service.OpenDocument(ctx, request)
	if err != nil {
		h.logFailure(ctx, "failed to open document", err, "certificate_request_id", request.ID)
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(doc.Key)+`"`)
	http.ServeContent(w, r, doc.Key, request.UpdatedAt, bytes.NewReader(doc.Content))
}

// HandleDecide handles PUT /certificates/{id}. The applicant is notified
// after the decision commits; notification failures are logged only.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	certID, err := id.ParseCertificateRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.service.Decide(ctx, service.DecideCommand{
		RequestID: certID,
		Status:    req.Status,
		Remarks:   req.Remarks,
	})
	if err != nil {
		h.logFailure(ctx, "certificate decision failed", err,
			"certificate_request_id", certID,
			"target_status", req.Status,
		)
		httputil.WriteError(w, err)
		return
	}

	h.notifyDecision(ctx, updated)
	h.logger.InfoContext(ctx, "certificate request decided",
		"request_id", requestID,
		"certificate_request_id", updated.ID,
		"status", updated.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, DecideResponse{
		Message: "Request " + string(updated.Status) + " successfully",
		Request: FromRequest(updated),
	})
}

func (h *Handler) notifyDecision(ctx context.Context, r *models.CertificateRequest) {
	if h.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.notifyTimeout)
	defer cancel()
	if err := h.notifier.Notify(ctx, notify.DecisionMessage(r)); err != nil {
		h.logger.WarnContext(ctx, "decision notification failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_request_id", r.ID,
			"error", err,
		)
	}
}

// loadVisible fetches the request named in the path if the caller owns it
// or is a reviewer. Other callers get not_found so ids cannot be enumerated.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (*models.CertificateRequest, bool) {
	ctx := r.Context()
	certID, err := id.ParseCertificateRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	request, err := h.service.Get(ctx, certID)
	if err != nil {
		h.logFailure(ctx, "failed to load certificate request", err, "certificate_request_id", certID)
		httputil.WriteError(w, err)
		return nil, false
	}
	caller := requestcontext.Identity(ctx)
	if !caller.Role.IsReviewer() && !request.IsOwnedBy(caller.UserID) {
		h.logger.WarnContext(ctx, "forbidden - not the applicant",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_request_id", certID,
			"user_id", caller.UserID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "certificate request not found"))
		return nil, false
	}
	return request, true
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "request_id", requestcontext.RequestID(ctx), "error", err)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
}
