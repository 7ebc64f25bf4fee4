package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/you/intake/internal/domain"
)

// SlotPool bounds per-caller in-flight uploads; Lock is the advisory
// mutual-exclusion on a logical artifact. Both self-expire.
type SlotPool interface {
	Acquire(ctx context.Context, clientID string, limit int, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, clientID, token string) error
}

type Lock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Config interface {
	UploadSlots(ctx context.Context) int
	LockTTL(ctx context.Context) time.Duration
}

type Guard struct {
	slots SlotPool
	locks Lock
	cfg   Config
}

func NewGuard(slots SlotPool, locks Lock, cfg Config) *Guard {
	return &Guard{slots: slots, locks: locks, cfg: cfg}
}

// LockKey derives the artifact identity: the idempotency key when present,
// otherwise tenant plus filename.
func LockKey(tenantID string, idempotencyKey *string, fileName string) string {
	if idempotencyKey != nil && *idempotencyKey != "" {
		return fmt.Sprintf("ingest:%s:key:%s", tenantID, *idempotencyKey)
	}
	return fmt.Sprintf("ingest:%s:file:%s", tenantID, strings.ToLower(fileName))
}

// Acquire reserves a concurrency slot and the artifact lock. On success the
// returned release func frees both and is safe to call on every exit path;
// on rejection the caller gets a typed AdmissionError distinguishing the
// concurrency ceiling from a duplicate in flight.
func (g *Guard) Acquire(ctx context.Context, client *domain.APIClient, lockKey string) (release func(), err error) {
	ttl := g.cfg.LockTTL(ctx)
	limit := g.cfg.UploadSlots(ctx)

	slotToken, ok, err := g.slots.Acquire(ctx, client.ID, limit, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.AdmissionError{
			Code:       domain.CodeTooManyUploads,
			Message:    fmt.Sprintf("more than %d uploads in flight", limit),
			RetryAfter: ttl,
		}
	}

	lockToken, ok, err := g.locks.TryLock(ctx, lockKey, ttl)
	if err != nil {
		g.releaseSlot(client.ID, slotToken)
		return nil, err
	}
	if !ok {
		g.releaseSlot(client.ID, slotToken)
		return nil, &domain.AdmissionError{
			Code:    domain.CodeDuplicateInFlight,
			Message: "a submission for this file is already in flight",
		}
	}

	return func() {
		g.releaseSlot(client.ID, slotToken)
		// Unlock happens off the request context; the TTL covers a failed
		// release.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.locks.Unlock(rctx, lockKey, lockToken)
	}, nil
}

func (g *Guard) releaseSlot(clientID, token string) {
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = g.slots.Release(rctx, clientID, token)
}
