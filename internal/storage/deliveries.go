package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/you/intake/internal/domain"
)

// InsertDelivery appends one webhook attempt to the audit log. Every
// attempt is recorded, success or not.
func (s *Store) InsertDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `insert into webhook_deliveries(
id, job_id, tenant_id, url, auth_scheme, payload, attempt,
status_code, latency_ms, outcome, detail
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.JobID, d.TenantID, d.URL, string(d.AuthScheme), d.Payload,
		d.Attempt, d.StatusCode, d.LatencyMS, string(d.Outcome), d.Detail)
	return errors.Wrap(err, "insert webhook delivery")
}

func (s *Store) CountDeliveries(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`select count(*) from webhook_deliveries where job_id = $1`, jobID).Scan(&n)
	return n, errors.Wrap(err, "count webhook deliveries")
}

func (s *Store) ListDeliveries(ctx context.Context, jobID string) ([]*domain.WebhookDelivery, error) {
	rows, err := s.db.Query(ctx, `select
id, job_id, tenant_id, url, auth_scheme, payload, attempt,
status_code, latency_ms, outcome, detail, created_at
from webhook_deliveries
where job_id = $1
order by attempt asc`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list webhook deliveries")
	}
	defer rows.Close()

	out := []*domain.WebhookDelivery{}
	for rows.Next() {
		var d domain.WebhookDelivery
		var scheme, outcome string
		if err := rows.Scan(
			&d.ID, &d.JobID, &d.TenantID, &d.URL, &scheme, &d.Payload, &d.Attempt,
			&d.StatusCode, &d.LatencyMS, &outcome, &d.Detail, &d.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan webhook delivery")
		}
		d.AuthScheme = domain.AuthScheme(scheme)
		d.Outcome = domain.DeliveryOutcome(outcome)
		out = append(out, &d)
	}
	return out, errors.Wrap(rows.Err(), "iterate webhook deliveries")
}
