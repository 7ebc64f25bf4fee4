package webhook

import (
	"context"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/intake/internal/domain"
)

type Dequeuer interface {
	Dequeue(ctx context.Context, tenants []string, block time.Duration) (tenant, member string, err error)
}

type JobSource interface {
	GetJob(ctx context.Context, id string) (*domain.IngestionJob, error)
}

type TenantSource interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// Runner pumps the delivery queue. Tenants are refreshed periodically and
// rotated so one busy tenant cannot starve the rest.
type Runner struct {
	q         Dequeuer
	jobs      JobSource
	tenants   TenantSource
	deliverer *Deliverer
	log       *zap.Logger
}

func NewRunner(q Dequeuer, jobs JobSource, tenants TenantSource, deliverer *Deliverer, log *zap.Logger) *Runner {
	return &Runner{q: q, jobs: jobs, tenants: tenants, deliverer: deliverer, log: log}
}

func (w *Runner) Run(ctx context.Context) error {
	var tenants []string
	var refreshed time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(refreshed) > 30*time.Second {
			if t, err := w.tenants.TenantIDs(ctx); err == nil {
				tenants = t
				refreshed = time.Now()
			}
		}
		if len(tenants) == 0 {
			time.Sleep(time.Second)
			continue
		}

		tenant, member, err := w.q.Dequeue(ctx, tenants, 5*time.Second)
		if errors.Is(err, r.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("delivery dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		rotate(tenants, tenant)

		jobID, attempt, ok := ParseMember(member)
		if !ok {
			w.log.Warn("malformed delivery member", zap.String("member", member))
			continue
		}
		job, err := w.jobs.GetJob(ctx, jobID)
		if err != nil {
			w.log.Warn("delivery for unknown job", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if err := w.deliverer.Deliver(ctx, job, attempt); err != nil {
			w.log.Error("delivery attempt errored",
				zap.String("job_id", jobID), zap.Int("attempt", attempt), zap.Error(err))
		}
	}
}

// rotate moves the just-served tenant to the back of the priority order.
func rotate(tenants []string, served string) {
	for i, t := range tenants {
		if t == served {
			copy(tenants[i:], tenants[i+1:])
			tenants[len(tenants)-1] = served
			return
		}
	}
}
