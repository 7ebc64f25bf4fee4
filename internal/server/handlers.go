package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/intake/internal/admission"
	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/storage"
	"github.com/you/intake/internal/upload"
)

type createIngestionRequest struct {
	PropertyRef     string  `json:"propertyRef"`
	DocumentType    string  `json:"documentType"`
	FileName        string  `json:"fileName"`
	ContentType     string  `json:"contentType"`
	IdempotencyKey  *string `json:"idempotencyKey,omitempty"`
	CallbackURL     *string `json:"callbackUrl,omitempty"`
	UploadSessionID *string `json:"uploadSessionId,omitempty"`
}

func (s *Server) createIngestion(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())

	var req createIngestionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "malformed request body")
		return
	}
	if req.PropertyRef == "" || req.FileName == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "propertyRef and fileName are required")
		return
	}
	if !domain.DocumentTypes[req.DocumentType] {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidDocumentType,
			"unrecognized document type "+req.DocumentType)
		return
	}

	// A replayed idempotency key returns the existing job without touching
	// the lock, the upload session or the job table.
	if req.IdempotencyKey != nil {
		existing, err := s.jobs.GetJobByKey(r.Context(), client.TenantID, *req.IdempotencyKey)
		if err == nil {
			writeJSON(w, http.StatusAccepted, viewJob(existing))
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.writeServiceError(w, err)
			return
		}
	}

	lockKey := admission.LockKey(client.TenantID, req.IdempotencyKey, req.FileName)
	actx, cancel := context.WithTimeout(r.Context(), s.cfg.AdmitTimeout(r.Context()))
	release, err := s.guard.Acquire(actx, client, lockKey)
	cancel()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer release()

	storagePath := upload.StoragePath(client.TenantID, req.FileName)
	if req.UploadSessionID != nil {
		sess, err := s.issuer.Consume(r.Context(), client, *req.UploadSessionID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		storagePath = sess.StoragePath
	}

	job, wasExisting, err := s.jobs.CreateJob(r.Context(), storage.CreateJobParams{
		TenantID:       client.TenantID,
		ClientID:       client.ID,
		PropertyRef:    req.PropertyRef,
		DocumentType:   req.DocumentType,
		FileName:       req.FileName,
		ContentType:    req.ContentType,
		StoragePath:    storagePath,
		CallbackURL:    req.CallbackURL,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !wasExisting {
		if err := s.q.Enqueue(r.Context(), client.TenantID, job.ID, time.Now()); err != nil {
			// The row is durable; the watchdog reconciles queued jobs that
			// missed their enqueue.
			s.log.Warn("enqueue failed, leaving job for reconciliation",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusAccepted, viewJob(job))
}

func (s *Server) getIngestion(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.ClientID != client.ID {
		writeError(w, http.StatusForbidden, domain.CodeForbidden, "job belongs to a different caller")
		return
	}
	writeJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) listIngestions(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	p := storage.ListJobsParams{
		TenantID: client.TenantID,
		ClientID: client.ID,
		Limit:    intParam(r, "limit", 50),
		Offset:   intParam(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "unknown status "+raw)
			return
		}
		p.Status = &status
	}
	jobs, err := s.jobs.ListJobs(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = viewJob(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ingestions": views,
		"offset":     p.Offset,
		"limit":      p.Limit,
	})
}

func (s *Server) cancelIngestion(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job.ClientID != client.ID {
		writeError(w, http.StatusForbidden, domain.CodeForbidden, "job belongs to a different caller")
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, domain.CodeAlreadyTerminal,
			"job already "+string(job.Status))
		return
	}
	msg := "cancelled by caller"
	if err := s.jobs.UpdateStatus(r.Context(), job.ID, domain.StatusCancelled, &msg, nil); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job.Status = domain.StatusCancelled
	job.StatusMessage = &msg
	if err := s.notifier.Notify(r.Context(), job); err != nil {
		s.log.Warn("cancel notification enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, viewJob(job))
}

type createUploadRequest struct {
	FileName       string  `json:"fileName"`
	ContentType    string  `json:"contentType"`
	SizeBytes      int64   `json:"sizeBytes"`
	IdempotencyKey *string `json:"idempotencyKey,omitempty"`
}

func (s *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	var req createUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "malformed request body")
		return
	}
	sess, reused, err := s.issuer.Create(r.Context(), client, upload.FileSpec{
		FileName:       req.FileName,
		ContentType:    req.ContentType,
		SizeBytes:      req.SizeBytes,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"sessionId":    sess.ID,
		"uploadTarget": "/v1/uploads/" + sess.ID,
		"expiresAt":    sess.ExpiresAt,
	})
}

func (s *Server) putUpload(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	sess, err := s.issuer.Get(r.Context(), client, chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if sess.ConsumedAt != nil {
		s.writeServiceError(w, domain.ErrSessionConsumed)
		return
	}
	if sess.Expired(time.Now()) {
		s.writeServiceError(w, domain.ErrSessionExpired)
		return
	}
	if _, err := s.blobs.Save(r.Context(), sess.StoragePath,
		http.MaxBytesReader(w, r.Body, sess.SizeBytes), sess.SizeBytes); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps domain errors onto the admission taxonomy; only
// genuinely unexpected failures become a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var adm *domain.AdmissionError
	switch {
	case errors.As(err, &adm):
		writeAdmissionError(w, adm)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.CodeNotFound, "no such resource")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, domain.CodeForbidden, "resource belongs to a different caller")
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusGone, domain.CodeSessionExpired, "upload session expired")
	case errors.Is(err, domain.ErrSessionConsumed):
		writeError(w, http.StatusConflict, domain.CodeSessionConsumed, "upload session already used")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
