package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/intake/internal/backoff"
	"github.com/you/intake/internal/domain"
	"github.com/you/intake/internal/webhook"
)

// reconcileGrace keeps the sweeper away from rows a handler or worker
// touched moments ago.
const reconcileGrace = 90 * time.Second

type WatchdogStore interface {
	TenantIDs(ctx context.Context) ([]string, error)
	StaleJobs(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.IngestionJob, error)
	QueuedJobIDs(ctx context.Context, tenantID string, grace time.Duration, limit int) ([]string, error)
	MarkRetry(ctx context.Context, id string, message *string) (bool, error)
	UpdateStatus(ctx context.Context, id string, to domain.Status, message, errDetail *string) error
	PurgeExpiredSessions(ctx context.Context) (int64, error)
	UndeliveredTerminalJobs(ctx context.Context, grace time.Duration, ceiling, limit int) ([]*domain.IngestionJob, error)
	CountDeliveries(ctx context.Context, jobID string) (int, error)
}

type Mover interface {
	Enqueue(ctx context.Context, tenant, member string, runAt time.Time) error
	MoveDue(ctx context.Context, tenant string, now int64, batch int64) error
}

type WatchdogConfig interface {
	StaleAfter(ctx context.Context) time.Duration
	MaxAttempts(ctx context.Context) int
	BackoffBase(ctx context.Context) time.Duration
	BackoffCap(ctx context.Context) time.Duration
	WebhookAttempts(ctx context.Context) int
}

// Watchdog reclaims work orphaned by crashed workers: stale non-terminal
// jobs, queued rows whose Redis enqueue was lost, expired upload sessions
// and terminal jobs whose notification never concluded.
type Watchdog struct {
	store    WatchdogStore
	jobQ     Mover
	hookQ    Mover
	notifier Notifier
	cfg      WatchdogConfig
	log      *zap.Logger
}

func NewWatchdog(store WatchdogStore, jobQ, hookQ Mover, notifier Notifier, cfg WatchdogConfig, log *zap.Logger) *Watchdog {
	return &Watchdog{store: store, jobQ: jobQ, hookQ: hookQ, notifier: notifier, cfg: cfg, log: log}
}

// Sweep runs one pass. Partial failure is logged and skipped; the next
// tick retries.
func (d *Watchdog) Sweep(ctx context.Context) {
	tenants, err := d.store.TenantIDs(ctx)
	if err != nil {
		d.log.Warn("tenant listing failed", zap.Error(err))
		return
	}
	now := time.Now().Unix()

	for _, t := range tenants {
		if err := d.jobQ.MoveDue(ctx, t, now, 200); err != nil {
			d.log.Warn("move due jobs failed", zap.String("tenant", t), zap.Error(err))
		}
		if err := d.hookQ.MoveDue(ctx, t, now, 200); err != nil {
			d.log.Warn("move due deliveries failed", zap.String("tenant", t), zap.Error(err))
		}
		d.reconcileQueued(ctx, t)
	}

	d.reclaimStale(ctx)

	if purged, err := d.store.PurgeExpiredSessions(ctx); err != nil {
		d.log.Warn("session purge failed", zap.Error(err))
	} else if purged > 0 {
		d.log.Info("purged expired upload sessions", zap.Int64("count", purged))
	}

	d.resumeDeliveries(ctx)
}

// reconcileQueued pushes queued rows back into Redis when the original
// enqueue was lost. The DB row is authoritative.
func (d *Watchdog) reconcileQueued(ctx context.Context, tenant string) {
	ids, err := d.store.QueuedJobIDs(ctx, tenant, reconcileGrace, 500)
	if err != nil {
		d.log.Warn("queued reconcile failed", zap.String("tenant", tenant), zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := d.jobQ.Enqueue(ctx, tenant, id, time.Now()); err != nil {
			d.log.Warn("reconcile enqueue failed", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// reclaimStale requeues jobs stuck non-terminal past the staleness
// threshold as a transient failure: attempt+1, or FAILED once the ceiling
// is spent.
func (d *Watchdog) reclaimStale(ctx context.Context) {
	stale, err := d.store.StaleJobs(ctx, d.cfg.StaleAfter(ctx), 500)
	if err != nil {
		d.log.Warn("stale scan failed", zap.Error(err))
		return
	}
	for _, job := range stale {
		if job.Attempt+1 >= d.cfg.MaxAttempts(ctx) {
			detail := "processing stalled and the retry budget is spent"
			if err := d.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, nil, &detail); err != nil {
				d.log.Warn("stale fail failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			job.Status = domain.StatusFailed
			job.ErrorDetail = &detail
			if err := d.notifier.Notify(ctx, job); err != nil {
				d.log.Warn("stale fail notify failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		msg := "reclaimed by watchdog"
		requeued, err := d.store.MarkRetry(ctx, job.ID, &msg)
		if err != nil || !requeued {
			continue
		}
		delay := backoff.Delay(job.Attempt+1, d.cfg.BackoffBase(ctx), d.cfg.BackoffCap(ctx))
		if err := d.jobQ.Enqueue(ctx, job.TenantID, job.ID, time.Now().Add(delay)); err != nil {
			d.log.Warn("stale requeue failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		d.log.Info("requeued stale job",
			zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt+1))
	}
}

// resumeDeliveries re-enqueues notifications for terminal jobs with a
// callback, no success in the log and budget left, covering a deliverer
// that crashed between pop and log.
func (d *Watchdog) resumeDeliveries(ctx context.Context) {
	ceiling := d.cfg.WebhookAttempts(ctx)
	jobs, err := d.store.UndeliveredTerminalJobs(ctx, reconcileGrace, ceiling, 200)
	if err != nil {
		d.log.Warn("undelivered scan failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		attempts, err := d.store.CountDeliveries(ctx, job.ID)
		if err != nil || attempts >= ceiling {
			continue
		}
		if err := d.hookQ.Enqueue(ctx, job.TenantID, webhook.Member(job.ID, attempts+1), time.Now()); err != nil {
			d.log.Warn("delivery resume failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
