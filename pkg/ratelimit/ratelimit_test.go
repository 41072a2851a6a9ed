package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowDrains(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "bucket exhausted")
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 1000)
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(1100 * time.Millisecond)
	assert.True(t, tb.Allow(), "token refilled after a second")
}

func TestTokenBucketWaitRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoneNeverBlocks(t *testing.T) {
	var l Limiter = None{}
	assert.True(t, l.Allow())
	assert.NoError(t, l.Wait(context.Background()))
}
