package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionsForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusUploading, true},
		{StatusUploading, StatusExtracting, true},
		{StatusExtracting, StatusProcessing, true},
		{StatusProcessing, StatusComplete, true},

		// transient retry requeues
		{StatusQueued, StatusQueued, true},
		{StatusUploading, StatusQueued, true},
		{StatusExtracting, StatusQueued, true},
		{StatusProcessing, StatusQueued, true},

		// any non-terminal may fail or cancel
		{StatusQueued, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},

		// never skip forward
		{StatusQueued, StatusExtracting, false},
		{StatusQueued, StatusComplete, false},
		{StatusUploading, StatusComplete, false},

		// terminal states never move
		{StatusComplete, StatusQueued, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusComplete, false},
		{StatusCancelled, StatusFailed, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusComplete, StatusFailed, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusQueued, StatusUploading, StatusExtracting, StatusProcessing} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestAllowedFrom(t *testing.T) {
	from := AllowedFrom(StatusCancelled)
	assert.ElementsMatch(t,
		[]Status{StatusQueued, StatusUploading, StatusExtracting, StatusProcessing}, from)

	// nothing transitions into a terminal state from another terminal state
	for _, s := range AllowedFrom(StatusFailed) {
		assert.False(t, s.Terminal())
	}
}
