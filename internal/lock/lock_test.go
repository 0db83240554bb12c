package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockUnlock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	locker := NewLocker(client, "conversion:cvn_1", "holder-a")
	require.NoError(t, locker.Lock(ctx, time.Minute))

	// second holder cannot take the lock
	other := NewLocker(client, "conversion:cvn_1", "holder-b")
	assert.Error(t, other.Lock(ctx, time.Minute))

	// only the holder can unlock
	assert.Error(t, other.Unlock(ctx))
	assert.NoError(t, locker.Unlock(ctx))

	assert.NoError(t, other.Lock(ctx, time.Minute))
}

func TestWaitLockTimesOut(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	held := NewLocker(client, "conversion:cvn_2", "holder-a")
	require.NoError(t, held.Lock(ctx, time.Minute))

	waiting := NewLocker(client, "conversion:cvn_2", "holder-b")
	err := waiting.WaitLock(ctx, time.Minute, 200*time.Millisecond)
	assert.Error(t, err)
}
