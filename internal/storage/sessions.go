package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/you/intake/internal/domain"
)

const sessionColumns = `id, tenant_id, client_id, file_name, content_type,
size_bytes, storage_path, idempotency_key, expires_at, consumed_at, created_at`

type CreateSessionParams struct {
	TenantID       string
	ClientID       string
	FileName       string
	ContentType    string
	SizeBytes      int64
	StoragePath    string
	IdempotencyKey *string
	TTL            time.Duration
}

// CreateSession issues a staging handle. With an idempotency key, a still
// pending session for that key is returned instead of allocating a second
// storage target; expired leftovers are cleared first so the partial unique
// index only ever guards live sessions.
func (s *Store) CreateSession(ctx context.Context, p CreateSessionParams) (*domain.UploadSession, bool, error) {
	if p.IdempotencyKey != nil {
		_, err := s.db.Exec(ctx, `delete from upload_sessions
where tenant_id = $1 and idempotency_key = $2
  and consumed_at is null and expires_at <= now()`,
			p.TenantID, *p.IdempotencyKey)
		if err != nil {
			return nil, false, errors.Wrap(err, "clear expired sessions")
		}
	}

	id := uuid.NewString()
	var inserted string
	err := s.db.QueryRow(ctx, `insert into upload_sessions(
id, tenant_id, client_id, file_name, content_type, size_bytes,
storage_path, idempotency_key, expires_at
) values ($1,$2,$3,$4,$5,$6,$7,$8, now() + make_interval(secs => $9::double precision))
on conflict (tenant_id, idempotency_key) where idempotency_key is not null and consumed_at is null
do nothing
returning id`,
		id, p.TenantID, p.ClientID, p.FileName, p.ContentType, p.SizeBytes,
		p.StoragePath, p.IdempotencyKey, p.TTL.Seconds(),
	).Scan(&inserted)
	if err == nil {
		sess, gerr := s.GetSession(ctx, inserted)
		return sess, false, gerr
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrap(err, "insert upload session")
	}

	row := s.db.QueryRow(ctx, `select `+sessionColumns+` from upload_sessions
where tenant_id = $1 and idempotency_key = $2 and consumed_at is null`,
		p.TenantID, *p.IdempotencyKey)
	sess, err := scanSession(row)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	row := s.db.QueryRow(ctx, `select `+sessionColumns+` from upload_sessions where id = $1`, id)
	return scanSession(row)
}

// ConsumeSession marks a session used. The guard makes consumption single
// shot: an expired or already consumed session reports why instead of
// handing out its storage target again.
func (s *Store) ConsumeSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	tag, err := s.db.Exec(ctx, `update upload_sessions set consumed_at = now()
where id = $1 and consumed_at is null and expires_at > now()`, id)
	if err != nil {
		return nil, errors.Wrap(err, "consume upload session")
	}
	sess, gerr := s.GetSession(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if tag.RowsAffected() == 1 {
		return sess, nil
	}
	if sess.ConsumedAt != nil {
		return nil, domain.ErrSessionConsumed
	}
	return nil, domain.ErrSessionExpired
}

func (s *Store) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`delete from upload_sessions where consumed_at is null and expires_at <= now()`)
	if err != nil {
		return 0, errors.Wrap(err, "purge expired sessions")
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*domain.UploadSession, error) {
	var u domain.UploadSession
	err := row.Scan(
		&u.ID, &u.TenantID, &u.ClientID, &u.FileName, &u.ContentType,
		&u.SizeBytes, &u.StoragePath, &u.IdempotencyKey, &u.ExpiresAt,
		&u.ConsumedAt, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan upload session")
	}
	return &u, nil
}
