package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/you/intake/internal/domain"
)

const jobColumns = `id, tenant_id, client_id, property_ref, document_type,
file_name, content_type, storage_path, callback_url, idempotency_key,
status, attempt, last_attempt_at, status_message, error_detail,
certificate_id, created_at, updated_at, completed_at`

type CreateJobParams struct {
	TenantID       string
	ClientID       string
	PropertyRef    string
	DocumentType   string
	FileName       string
	ContentType    string
	StoragePath    string
	CallbackURL    *string
	IdempotencyKey *string
}

// CreateJob inserts a new queued job, or returns the existing one when the
// (tenant, idempotency key) pair was already seen. The partial unique index
// arbitrates concurrent creators: exactly one insert wins, the loser reads
// the winner's row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (*domain.IngestionJob, bool, error) {
	id := uuid.NewString()
	var inserted string
	err := s.db.QueryRow(ctx, `insert into ingestion_jobs(
id, tenant_id, client_id, property_ref, document_type, file_name,
content_type, storage_path, callback_url, idempotency_key, status, attempt
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'queued',0)
on conflict (tenant_id, idempotency_key) where idempotency_key is not null
do nothing
returning id`,
		id, p.TenantID, p.ClientID, p.PropertyRef, p.DocumentType, p.FileName,
		p.ContentType, p.StoragePath, p.CallbackURL, p.IdempotencyKey,
	).Scan(&inserted)
	if err == nil {
		job, gerr := s.GetJob(ctx, inserted)
		return job, false, gerr
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "insert job")
	}
	if p.IdempotencyKey == nil {
		return nil, false, errors.New("insert job: conflict without idempotency key")
	}
	job, err := s.GetJobByKey(ctx, p.TenantID, *p.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.IngestionJob, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from ingestion_jobs where id = $1`, id)
	return scanJob(row)
}

func (s *Store) GetJobByKey(ctx context.Context, tenantID, key string) (*domain.IngestionJob, error) {
	row := s.db.QueryRow(ctx,
		`select `+jobColumns+` from ingestion_jobs where tenant_id = $1 and idempotency_key = $2`,
		tenantID, key)
	return scanJob(row)
}

// UpdateStatus moves a job to the given status. The WHERE guard carries the
// allowed-from set, so an update racing a cancellation (or replaying out of
// order) affects zero rows and surfaces an InvalidTransitionError instead
// of overwriting.
func (s *Store) UpdateStatus(ctx context.Context, id string, to domain.Status, message, errDetail *string) error {
	allowed := domain.AllowedFrom(to)
	from := make([]string, len(allowed))
	for i, st := range allowed {
		from[i] = string(st)
	}
	tag, err := s.db.Exec(ctx, `update ingestion_jobs set
status = $2,
status_message = $3,
error_detail = $4,
updated_at = now(),
completed_at = case when $5::bool then now() else completed_at end
where id = $1 and status = any($6)`,
		id, string(to), message, errDetail, to.Terminal(), from)
	if err != nil {
		return errors.Wrap(err, "update job status")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return &domain.InvalidTransitionError{JobID: id, From: job.Status, To: to}
}

// StartAttempt stamps the attempt clock before a worker begins a step, so
// the watchdog can tell an in-flight job from an orphaned one.
func (s *Store) StartAttempt(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`update ingestion_jobs set last_attempt_at = now(), updated_at = now() where id = $1`, id)
	return errors.Wrap(err, "start attempt")
}

// MarkRetry requeues a job after a transient failure, bumping the attempt
// counter. Terminal jobs are left alone: the guard keeps a cancelled job
// cancelled.
func (s *Store) MarkRetry(ctx context.Context, id string, message *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `update ingestion_jobs set
status = 'queued',
attempt = attempt + 1,
last_attempt_at = now(),
status_message = $2,
updated_at = now()
where id = $1 and status in ('queued','uploading','extracting','processing')`,
		id, message)
	if err != nil {
		return false, errors.Wrap(err, "mark retry")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetCertificate(ctx context.Context, id, certificateID string) error {
	_, err := s.db.Exec(ctx,
		`update ingestion_jobs set certificate_id = $2, updated_at = now() where id = $1`,
		id, certificateID)
	return errors.Wrap(err, "set certificate")
}

type ListJobsParams struct {
	TenantID string
	ClientID string
	Status   *domain.Status
	Limit    int
	Offset   int
}

func (s *Store) ListJobs(ctx context.Context, p ListJobsParams) ([]*domain.IngestionJob, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	var status *string
	if p.Status != nil {
		v := string(*p.Status)
		status = &v
	}
	rows, err := s.db.Query(ctx, `select `+jobColumns+`
from ingestion_jobs
where tenant_id = $1 and client_id = $2
  and ($3::text is null or status = $3)
order by created_at desc
limit $4 offset $5`,
		p.TenantID, p.ClientID, status, p.Limit, p.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// StaleJobs finds non-terminal jobs whose last activity is older than the
// staleness threshold. Jobs that never started fall back to created_at.
func (s *Store) StaleJobs(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.IngestionJob, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+`
from ingestion_jobs
where status in ('uploading','extracting','processing')
  and coalesce(last_attempt_at, created_at) < now() - make_interval(secs => $1::double precision)
order by coalesce(last_attempt_at, created_at) asc
limit $2`,
		olderThan.Seconds(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "stale jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// QueuedJobIDs lists queued jobs untouched for at least grace, for
// reconciling rows whose Redis enqueue was lost.
func (s *Store) QueuedJobIDs(ctx context.Context, tenantID string, grace time.Duration, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `select id from ingestion_jobs
where tenant_id = $1 and status = 'queued'
  and updated_at < now() - make_interval(secs => $2::double precision)
order by created_at asc
limit $3`,
		tenantID, grace.Seconds(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "queued job ids")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan queued job id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate queued job ids")
}

// UndeliveredTerminalJobs finds terminal jobs with a callback URL, no
// successful delivery, and delivery attempts still under the ceiling. The
// grace applies to the latest attempt, so a retry already parked in the
// delay queue is not duplicated.
func (s *Store) UndeliveredTerminalJobs(ctx context.Context, grace time.Duration, ceiling, limit int) ([]*domain.IngestionJob, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+`
from ingestion_jobs j
where status in ('complete','failed','cancelled')
  and callback_url is not null
  and coalesce(
        (select max(d.created_at) from webhook_deliveries d where d.job_id = j.id),
        completed_at) < now() - make_interval(secs => $1::double precision)
  and not exists (
    select 1 from webhook_deliveries d
    where d.job_id = j.id and d.outcome = 'success')
  and (select count(*) from webhook_deliveries d where d.job_id = j.id) < $2
order by completed_at asc
limit $3`,
		grace.Seconds(), ceiling, limit)
	if err != nil {
		return nil, errors.Wrap(err, "undelivered terminal jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]*domain.IngestionJob, error) {
	jobs := []*domain.IngestionJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Wrap(rows.Err(), "iterate jobs")
}

func scanJob(row pgx.Row) (*domain.IngestionJob, error) {
	var j domain.IngestionJob
	var status string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.ClientID, &j.PropertyRef, &j.DocumentType,
		&j.FileName, &j.ContentType, &j.StoragePath, &j.CallbackURL, &j.IdempotencyKey,
		&status, &j.Attempt, &j.LastAttemptAt, &j.StatusMessage, &j.ErrorDetail,
		&j.CertificateID, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan job")
	}
	j.Status = domain.Status(status)
	return &j, nil
}
