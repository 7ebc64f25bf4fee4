package domain

import "time"

type AuthScheme string

const (
	AuthNone   AuthScheme = "none"
	AuthAPIKey AuthScheme = "api_key"
	AuthBearer AuthScheme = "bearer"
)

type DeliveryOutcome string

const (
	DeliverySuccess DeliveryOutcome = "success"
	DeliveryFailure DeliveryOutcome = "failure"
)

// WebhookDelivery is one attempt to notify a callback URL about a job's
// terminal outcome. The log is append-only; attempts for a job are ordered
// by Attempt.
type WebhookDelivery struct {
	ID         string
	JobID      string
	TenantID   string
	URL        string
	AuthScheme AuthScheme
	Payload    []byte
	Attempt    int
	StatusCode *int
	LatencyMS  int64
	Outcome    DeliveryOutcome
	Detail     *string
	CreatedAt  time.Time
}

// WebhookEvent is the JSON body posted to a callback URL.
type WebhookEvent struct {
	Event         string         `json:"event"`
	SubmissionID  string         `json:"submissionId"`
	Status        Status         `json:"status"`
	EntityID      *string        `json:"entityId,omitempty"`
	ExtractedData map[string]any `json:"extractedData,omitempty"`
	Error         *string        `json:"error,omitempty"`
}
