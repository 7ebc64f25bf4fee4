package config

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Runtime-tunable setting keys. Values live in pipeline_settings and are
// re-read without a restart; Defaults seeds anything an operator has not
// overridden.
const (
	KeyRateWindowSec      = "rate_window_sec"
	KeyRateCeiling        = "rate_ceiling"
	KeyUploadSlots        = "upload_slots_per_client"
	KeyLockTTLSec         = "upload_lock_ttl_sec"
	KeyMaxAttempts        = "job_max_attempts"
	KeyBackoffBaseSec     = "job_backoff_base_sec"
	KeyBackoffCapSec      = "job_backoff_cap_sec"
	KeyStaleAfterSec      = "job_stale_after_sec"
	KeyWebhookAttempts    = "webhook_max_attempts"
	KeyWebhookTimeoutSec  = "webhook_timeout_sec"
	KeyExtractTimeoutSec  = "extract_timeout_sec"
	KeySessionTTLSec      = "upload_session_ttl_sec"
	KeyMaxFileBytes       = "max_file_bytes"
	KeyAdmitTimeoutMillis = "admit_timeout_ms"
)

// Defaults apply until an operator writes an override row.
var Defaults = map[string]string{
	KeyRateWindowSec:      "60",
	KeyRateCeiling:        "120",
	KeyUploadSlots:        "4",
	KeyLockTTLSec:         "30",
	KeyMaxAttempts:        "3",
	KeyBackoffBaseSec:     "2",
	KeyBackoffCapSec:      "300",
	KeyStaleAfterSec:      "600",
	KeyWebhookAttempts:    "5",
	KeyWebhookTimeoutSec:  "10",
	KeyExtractTimeoutSec:  "120",
	KeySessionTTLSec:      "900",
	KeyMaxFileBytes:       "26214400",
	KeyAdmitTimeoutMillis: "2000",
}

// SettingsStore loads the operator overrides.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

// Settings is a cached view over pipeline_settings. Reads serve from the
// cache until cacheTTL passes or Invalidate is called; a failed reload
// keeps serving the previous snapshot.
type Settings struct {
	store    SettingsStore
	cacheTTL time.Duration

	mu       sync.RWMutex
	snapshot map[string]string
	loadedAt time.Time
}

func NewSettings(store SettingsStore, cacheTTL time.Duration) *Settings {
	return &Settings{store: store, cacheTTL: cacheTTL}
}

// Invalidate drops the cached snapshot so the next read hits the store.
func (s *Settings) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Settings) get(ctx context.Context, key string) string {
	s.mu.RLock()
	fresh := !s.loadedAt.IsZero() && time.Since(s.loadedAt) < s.cacheTTL
	snap := s.snapshot
	s.mu.RUnlock()

	if !fresh {
		if loaded, err := s.store.LoadSettings(ctx); err == nil {
			s.mu.Lock()
			s.snapshot = loaded
			s.loadedAt = time.Now()
			snap = loaded
			s.mu.Unlock()
		}
	}
	if v, ok := snap[key]; ok {
		return v
	}
	return Defaults[key]
}

func (s *Settings) intVal(ctx context.Context, key string) int {
	v, err := strconv.Atoi(s.get(ctx, key))
	if err != nil {
		v, _ = strconv.Atoi(Defaults[key])
	}
	return v
}

func (s *Settings) seconds(ctx context.Context, key string) time.Duration {
	return time.Duration(s.intVal(ctx, key)) * time.Second
}

func (s *Settings) RateWindow(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyRateWindowSec)
}
func (s *Settings) RateCeiling(ctx context.Context) int { return s.intVal(ctx, KeyRateCeiling) }
func (s *Settings) UploadSlots(ctx context.Context) int { return s.intVal(ctx, KeyUploadSlots) }
func (s *Settings) LockTTL(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyLockTTLSec)
}
func (s *Settings) MaxAttempts(ctx context.Context) int { return s.intVal(ctx, KeyMaxAttempts) }
func (s *Settings) BackoffBase(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyBackoffBaseSec)
}
func (s *Settings) BackoffCap(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyBackoffCapSec)
}
func (s *Settings) StaleAfter(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyStaleAfterSec)
}
func (s *Settings) WebhookAttempts(ctx context.Context) int {
	return s.intVal(ctx, KeyWebhookAttempts)
}
func (s *Settings) WebhookTimeout(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyWebhookTimeoutSec)
}
func (s *Settings) ExtractTimeout(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeyExtractTimeoutSec)
}
func (s *Settings) SessionTTL(ctx context.Context) time.Duration {
	return s.seconds(ctx, KeySessionTTLSec)
}
func (s *Settings) MaxFileBytes(ctx context.Context) int64 {
	return int64(s.intVal(ctx, KeyMaxFileBytes))
}
func (s *Settings) AdmitTimeout(ctx context.Context) time.Duration {
	return time.Duration(s.intVal(ctx, KeyAdmitTimeoutMillis)) * time.Millisecond
}
