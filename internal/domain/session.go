package domain

import "time"

// UploadSession is a short-lived, single-use handle for staging a file
// before a job is created. Expired or consumed sessions cannot back a job.
type UploadSession struct {
	ID             string
	TenantID       string
	ClientID       string
	FileName       string
	ContentType    string
	SizeBytes      int64
	StoragePath    string
	IdempotencyKey *string
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	CreatedAt      time.Time
}

func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
