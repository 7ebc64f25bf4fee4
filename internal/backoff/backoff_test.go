package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrows(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	// jitter is ±20%, so compare against the exponential midpoints
	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
	} {
		d := Delay(attempt, base, max)
		assert.GreaterOrEqual(t, d, want-want/5, "attempt %d", attempt)
		assert.LessOrEqual(t, d, want+want/5, "attempt %d", attempt)
	}
}

func TestDelayCapped(t *testing.T) {
	max := 30 * time.Second
	d := Delay(20, time.Second, max)
	assert.LessOrEqual(t, d, max+max/5)
}

func TestDelayClampsAttempt(t *testing.T) {
	d := Delay(0, time.Second, time.Minute)
	assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	assert.LessOrEqual(t, d, 1200*time.Millisecond)
}
