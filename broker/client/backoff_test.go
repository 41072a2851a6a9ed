package client

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayDoublesUntilCap(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 10 * time.Second

	assert.Equal(t, 100*time.Millisecond, BackoffDelay(1, base, limit, 0))
	assert.Equal(t, 200*time.Millisecond, BackoffDelay(2, base, limit, 0))
	assert.Equal(t, 400*time.Millisecond, BackoffDelay(3, base, limit, 0))
	assert.Equal(t, 800*time.Millisecond, BackoffDelay(4, base, limit, 0))

	// well past the cap, including attempts large enough to overflow a
	// naive shift
	assert.Equal(t, limit, BackoffDelay(20, base, limit, 0))
	assert.Equal(t, limit, BackoffDelay(500, base, limit, 0))
}

func TestBackoffDelayMonotonicProperty(t *testing.T) {
	base := 50 * time.Millisecond
	limit := 30 * time.Second

	monotonic := func(attempt uint8) bool {
		a := int(attempt%30) + 1
		return BackoffDelay(a+1, base, limit, 0) >= BackoffDelay(a, base, limit, 0)
	}
	require.NoError(t, quick.Check(monotonic, nil))

	capped := func(attempt uint8) bool {
		a := int(attempt) + 1
		d := BackoffDelay(a, base, limit, 0)
		return d >= base && d <= limit
	}
	require.NoError(t, quick.Check(capped, nil))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 10 * time.Second

	within := func(attempt uint8) bool {
		a := int(attempt%10) + 1
		center := BackoffDelay(a, base, limit, 0)
		d := BackoffDelay(a, base, limit, 0.5)
		return d >= center/2 && d <= center+center/2
	}
	require.NoError(t, quick.Check(within, nil))
}

func TestBackoffDelayNonPositiveInputs(t *testing.T) {
	assert.Equal(t, time.Duration(0), BackoffDelay(1, 0, time.Second, 0))
	assert.Equal(t, 100*time.Millisecond, BackoffDelay(0, 100*time.Millisecond, time.Second, 0))
}
