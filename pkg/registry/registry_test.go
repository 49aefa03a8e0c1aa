package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryRegisterAndList(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	require.NoError(t, r.Register(ctx, "usertask", 1, 10))
	require.NoError(t, r.Register(ctx, "usertask", 1, 11))
	require.NoError(t, r.Register(ctx, "api", 1, 12))

	ids, err := r.ListActive(ctx, "usertask", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, ids)

	active, err := r.IsActive(ctx, "usertask", 1, 11)
	require.NoError(t, err)
	assert.True(t, active)

	// Namespaces are independent.
	active, err = r.IsActive(ctx, "usertask", 1, 12)
	require.NoError(t, err)
	assert.False(t, active)

	// Other users see nothing.
	ids, err = r.ListActive(ctx, "usertask", 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryRegistryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	now := time.Unix(0, 0)
	r.SetClock(func() time.Time { return now })

	require.NoError(t, r.Register(ctx, "usertask", 1, 10))

	now = now.Add(TTL - time.Second)
	ids, err := r.ListActive(ctx, "usertask", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	now = now.Add(2 * time.Second)
	ids, err = r.ListActive(ctx, "usertask", 1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryRegistryTTLRefreshOnRegister(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	now := time.Unix(0, 0)
	r.SetClock(func() time.Time { return now })

	require.NoError(t, r.Register(ctx, "usertask", 1, 10))
	now = now.Add(TTL - time.Minute)
	require.NoError(t, r.Register(ctx, "usertask", 1, 11))

	// The earlier entry lives as long as the refreshed list does.
	now = now.Add(2 * time.Minute)
	ids, err := r.ListActive(ctx, "usertask", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, ids)
}

func TestMemoryRegistryExpiredListResetOnRegister(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()
	now := time.Unix(0, 0)
	r.SetClock(func() time.Time { return now })

	require.NoError(t, r.Register(ctx, "usertask", 1, 10))
	now = now.Add(TTL + time.Second)
	require.NoError(t, r.Register(ctx, "usertask", 1, 11))

	ids, err := r.ListActive(ctx, "usertask", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, ids)
}
