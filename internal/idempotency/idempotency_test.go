package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	key := Scoped(7, "abc")
	assert.Equal(t, "checkout:7:abc", key)

	res, found, err := s.Begin(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, res)

	_, _, err = s.Begin(ctx, key)
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, s.Complete(ctx, key, []byte(`{"ok":true}`)))

	res, found, err = s.Begin(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(res))
}

func TestMemoryStoreRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	_, _, err := s.Begin(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k"))

	_, found, err := s.Begin(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Complete(ctx, "k", []byte("x")))

	now = now.Add(2 * time.Minute)
	_, found, err := s.Begin(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired results are forgotten")

	now = now.Add(2 * time.Minute)
	s.Sweep()
	assert.Empty(t, s.entries)
}
