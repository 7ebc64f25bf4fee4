package domain

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusExtracting Status = "extracting"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the statuses a job may move to from each status.
// Processing only moves forward; a transient failure requeues (back to
// queued), and any non-terminal status may be failed or cancelled.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusUploading, StatusQueued, StatusFailed, StatusCancelled},
	StatusUploading:  {StatusExtracting, StatusQueued, StatusFailed, StatusCancelled},
	StatusExtracting: {StatusProcessing, StatusQueued, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusComplete, StatusQueued, StatusFailed, StatusCancelled},
	StatusComplete:   nil,
	StatusFailed:     nil,
	StatusCancelled:  nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses that may transition into to. The store
// uses this set as the WHERE guard on status updates.
func AllowedFrom(to Status) []Status {
	var out []Status
	for from, tos := range transitions {
		for _, n := range tos {
			if n == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// IngestionJob is the durable record of one external submission.
type IngestionJob struct {
	ID             string
	TenantID       string
	ClientID       string
	PropertyRef    string
	DocumentType   string
	FileName       string
	ContentType    string
	StoragePath    string
	CallbackURL    *string
	IdempotencyKey *string
	Status         Status
	Attempt        int
	LastAttemptAt  *time.Time
	StatusMessage  *string
	ErrorDetail    *string
	CertificateID  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// DocumentTypes lists the certificate categories the pipeline accepts.
// Submissions declaring anything else are rejected at admission.
var DocumentTypes = map[string]bool{
	"gas_safety":           true,
	"eicr":                 true,
	"epc":                  true,
	"fire_risk_assessment": true,
	"fire_alarm":           true,
	"emergency_lighting":   true,
	"asbestos_survey":      true,
	"legionella":           true,
	"lift_loler":           true,
}
