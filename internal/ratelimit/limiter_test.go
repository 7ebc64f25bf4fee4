package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/intake/internal/storage"
)

// fakeWindows mirrors the storage upsert semantics with a controllable
// clock: reset past the boundary, otherwise always increment.
type fakeWindows struct {
	now     time.Time
	windows map[string]storage.Window
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{now: time.Unix(1700000000, 0), windows: map[string]storage.Window{}}
}

func (f *fakeWindows) IncrementWindow(_ context.Context, clientID string, window time.Duration) (storage.Window, error) {
	w, ok := f.windows[clientID]
	if !ok || !f.now.Before(w.Start.Add(window)) {
		w = storage.Window{Start: f.now, Count: 1}
	} else {
		w.Count++
	}
	f.windows[clientID] = w
	return w, nil
}

type fixedConfig struct {
	window  time.Duration
	ceiling int
}

func (c fixedConfig) RateWindow(context.Context) time.Duration { return c.window }
func (c fixedConfig) RateCeiling(context.Context) int          { return c.ceiling }

func TestAdmitUpToCeiling(t *testing.T) {
	windows := newFakeWindows()
	limiter := New(windows, fixedConfig{window: time.Minute, ceiling: 2})
	ctx := context.Background()

	first, err := limiter.Admit(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.Admit(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	// the (ceiling+1)-th request inside the window is denied with a reset hint
	third, err := limiter.Admit(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, windows.now.Add(time.Minute), third.ResetAt)
}

func TestWindowResetsAtBoundary(t *testing.T) {
	windows := newFakeWindows()
	limiter := New(windows, fixedConfig{window: time.Minute, ceiling: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Admit(ctx, "c1")
		require.NoError(t, err)
	}

	windows.now = windows.now.Add(time.Minute)
	d, err := limiter.Admit(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "budget resets exactly at the boundary")
	assert.Equal(t, 1, d.Remaining)
}

func TestBudgetsAreIndependentPerCaller(t *testing.T) {
	limiter := New(newFakeWindows(), fixedConfig{window: time.Minute, ceiling: 1})
	ctx := context.Background()

	a, err := limiter.Admit(ctx, "a")
	require.NoError(t, err)
	assert.True(t, a.Allowed)

	denied, err := limiter.Admit(ctx, "a")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	b, err := limiter.Admit(ctx, "b")
	require.NoError(t, err)
	assert.True(t, b.Allowed, "caller b has its own budget")
}
