package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/you/intake/internal/domain"
)

const clientColumns = `id, tenant_id, name, key_id, secret_hash,
signing_secret, webhook_auth, webhook_token, disabled, created_at`

func (s *Store) InsertClient(ctx context.Context, c *domain.APIClient) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `insert into api_clients(
id, tenant_id, name, key_id, secret_hash, signing_secret,
webhook_auth, webhook_token, disabled
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.TenantID, c.Name, c.KeyID, c.SecretHash, c.SigningSecret,
		string(c.WebhookAuth), c.WebhookToken, c.Disabled)
	return errors.Wrap(err, "insert api client")
}

func (s *Store) GetClientByKeyID(ctx context.Context, keyID string) (*domain.APIClient, error) {
	row := s.db.QueryRow(ctx,
		`select `+clientColumns+` from api_clients where key_id = $1 and not disabled`, keyID)
	var c domain.APIClient
	var auth string
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.KeyID, &c.SecretHash,
		&c.SigningSecret, &auth, &c.WebhookToken, &c.Disabled, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan api client")
	}
	c.WebhookAuth = domain.AuthScheme(auth)
	return &c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.APIClient, error) {
	row := s.db.QueryRow(ctx,
		`select `+clientColumns+` from api_clients where id = $1`, id)
	var c domain.APIClient
	var auth string
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.KeyID, &c.SecretHash,
		&c.SigningSecret, &auth, &c.WebhookToken, &c.Disabled, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan api client")
	}
	c.WebhookAuth = domain.AuthScheme(auth)
	return &c, nil
}

// TenantIDs lists the tenants with at least one active client; the watchdog
// sweeps queues per tenant.
func (s *Store) TenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select distinct tenant_id from api_clients where not disabled`)
	if err != nil {
		return nil, errors.Wrap(err, "list tenants")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan tenant id")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "iterate tenants")
}
