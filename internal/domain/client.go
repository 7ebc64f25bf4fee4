package domain

import "time"

// APIClient is an external system allowed to submit documents. SecretHash
// is a bcrypt digest; the raw secret is shown once at mint time and never
// stored or logged.
type APIClient struct {
	ID            string
	TenantID      string
	Name          string
	KeyID         string
	SecretHash    string
	SigningSecret string
	WebhookAuth   AuthScheme
	WebhookToken  *string
	Disabled      bool
	CreatedAt     time.Time
}
