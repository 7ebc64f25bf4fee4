package ratelimit

import (
	"context"
	"time"

	"github.com/you/intake/internal/storage"
)

// Decision is one admission verdict. ResetAt is always populated so a
// denied caller can schedule its retry.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// WindowStore performs the atomic window increment.
type WindowStore interface {
	IncrementWindow(ctx context.Context, clientID string, window time.Duration) (storage.Window, error)
}

// Config reads the tunable window parameters per call, so operator changes
// apply without a restart.
type Config interface {
	RateWindow(ctx context.Context) time.Duration
	RateCeiling(ctx context.Context) int
}

type Limiter struct {
	windows WindowStore
	cfg     Config
}

func New(windows WindowStore, cfg Config) *Limiter {
	return &Limiter{windows: windows, cfg: cfg}
}

// Admit spends one unit of the caller's budget. The count lives in shared
// storage and the increment is a single atomic upsert, so concurrent
// requests and multiple API instances see one consistent budget.
func (l *Limiter) Admit(ctx context.Context, clientID string) (Decision, error) {
	window := l.cfg.RateWindow(ctx)
	ceiling := l.cfg.RateCeiling(ctx)

	w, err := l.windows.IncrementWindow(ctx, clientID, window)
	if err != nil {
		return Decision{}, err
	}

	remaining := ceiling - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.Count <= ceiling,
		Remaining: remaining,
		ResetAt:   w.Start.Add(window),
	}, nil
}
