package storage

import (
	"context"

	"github.com/pkg/errors"
)

// LoadSettings reads every operator override. Implements config.SettingsStore.
func (s *Store) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `select key, value from pipeline_settings`)
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		out[k] = v
	}
	return out, errors.Wrap(rows.Err(), "iterate settings")
}

func (s *Store) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `insert into pipeline_settings(key, value)
values ($1, $2)
on conflict (key) do update set value = excluded.value, updated_at = now()`,
		key, value)
	return errors.Wrap(err, "upsert setting")
}
