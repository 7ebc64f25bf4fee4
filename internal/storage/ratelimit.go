package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Window is the post-increment view of a caller's rate window.
type Window struct {
	Start time.Time
	Count int
}

// IncrementWindow advances a caller's sliding window in one atomic upsert.
// A window past its boundary resets to count 1; otherwise the count always
// increments, even past the ceiling — admission compares the returned count
// against the ceiling, and the reset at the boundary clears any overshoot.
func (s *Store) IncrementWindow(ctx context.Context, clientID string, window time.Duration) (Window, error) {
	var w Window
	err := s.db.QueryRow(ctx, `insert into rate_limit_windows as w
(client_id, window_start, request_count, updated_at)
values ($1, now(), 1, now())
on conflict (client_id) do update set
request_count = case
  when w.window_start + make_interval(secs => $2::double precision) <= now() then 1
  else w.request_count + 1 end,
window_start = case
  when w.window_start + make_interval(secs => $2::double precision) <= now() then now()
  else w.window_start end,
updated_at = now()
returning window_start, request_count`,
		clientID, window.Seconds()).Scan(&w.Start, &w.Count)
	if err != nil {
		return Window{}, errors.Wrap(err, "increment rate window")
	}
	return w, nil
}
