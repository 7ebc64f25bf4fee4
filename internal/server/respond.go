package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/you/intake/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code domain.Code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeAdmissionError maps the admission taxonomy onto distinct statuses;
// nothing here ever collapses into a 500.
func writeAdmissionError(w http.ResponseWriter, e *domain.AdmissionError) {
	status := http.StatusBadRequest
	switch e.Code {
	case domain.CodeInvalidCredential:
		status = http.StatusUnauthorized
	case domain.CodeRateLimited, domain.CodeTooManyUploads:
		status = http.StatusTooManyRequests
	case domain.CodeDuplicateInFlight:
		status = http.StatusConflict
	case domain.CodeFileTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(e.RetryAfter)))
	}
	writeError(w, status, e.Code, e.Message)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type jobView struct {
	JobID          string     `json:"jobId"`
	Status         string     `json:"status"`
	PropertyRef    string     `json:"propertyRef"`
	DocumentType   string     `json:"documentType"`
	FileName       string     `json:"fileName"`
	Attempt        int        `json:"attempt"`
	StatusMessage  *string    `json:"statusMessage,omitempty"`
	ErrorDetail    *string    `json:"errorDetail,omitempty"`
	CertificateID  *string    `json:"certificateId,omitempty"`
	IdempotencyKey *string    `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

func viewJob(j *domain.IngestionJob) jobView {
	return jobView{
		JobID:          j.ID,
		Status:         string(j.Status),
		PropertyRef:    j.PropertyRef,
		DocumentType:   j.DocumentType,
		FileName:       j.FileName,
		Attempt:        j.Attempt,
		StatusMessage:  j.StatusMessage,
		ErrorDetail:    j.ErrorDetail,
		CertificateID:  j.CertificateID,
		IdempotencyKey: j.IdempotencyKey,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
	}
}
