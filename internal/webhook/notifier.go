package webhook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/you/intake/internal/domain"
)

// Queue is the delivery queue, separate from the job queue so a stalled
// destination cannot block job processing.
type Queue interface {
	Enqueue(ctx context.Context, tenant, member string, runAt time.Time) error
}

// Member carries the attempt number through the queue as jobID@attempt; the
// durable truth stays in the webhook_deliveries log.
func Member(jobID string, attempt int) string {
	return fmt.Sprintf("%s@%d", jobID, attempt)
}

func ParseMember(m string) (jobID string, attempt int, ok bool) {
	i := strings.LastIndexByte(m, '@')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[i+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return m[:i], n, true
}

// Notifier schedules the first delivery attempt when a job reaches a
// terminal status. Jobs without a callback URL are a no-op.
type Notifier struct{ q Queue }

func NewNotifier(q Queue) *Notifier { return &Notifier{q} }

func (n *Notifier) Notify(ctx context.Context, job *domain.IngestionJob) error {
	if job.CallbackURL == nil || *job.CallbackURL == "" {
		return nil
	}
	return n.q.Enqueue(ctx, job.TenantID, Member(job.ID, 1), time.Now())
}
