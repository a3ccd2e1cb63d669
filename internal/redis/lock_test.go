package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var day = slots.Date{Year: 2025, Month: time.June, Day: 10}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithDayLockReleasesKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewDayLocker(rdb, 5*time.Second, 200*time.Millisecond)

	ran := false
	err := locker.WithDayLock(context.Background(), "D1", day, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(DayKey("D1", day)))
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(DayKey("D1", day)))
}

func TestWithDayLockReturnsCallbackError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewDayLocker(rdb, 5*time.Second, 200*time.Millisecond)

	boom := errors.New("boom")
	err := locker.WithDayLock(context.Background(), "D1", day, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(DayKey("D1", day)))
}

func TestWithDayLockGivesUpAfterWait(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set(DayKey("D1", day), "someone-else"))
	locker := NewDayLocker(rdb, 5*time.Second, 50*time.Millisecond)

	err := locker.WithDayLock(context.Background(), "D1", day, func(context.Context) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// A foreign holder's key is left alone.
	got, err := mr.Get(DayKey("D1", day))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithDayLockWaitsForHolder(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewDayLocker(rdb, 5*time.Second, 2*time.Second)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithDayLock(context.Background(), "D1", day, func(context.Context) error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestDifferentDaysDoNotContend(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewDayLocker(rdb, 5*time.Second, 10*time.Millisecond)

	err := locker.WithDayLock(context.Background(), "D1", day, func(ctx context.Context) error {
		return locker.WithDayLock(ctx, "D1", day.AddDays(1), func(context.Context) error { return nil })
	})
	require.NoError(t, err)

	err = locker.WithDayLock(context.Background(), "D1", day, func(ctx context.Context) error {
		return locker.WithDayLock(ctx, "D2", day, func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestWithDayLockHonoursCallerContext(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set(DayKey("D1", day), "held"))
	locker := NewDayLocker(rdb, 5*time.Second, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := locker.WithDayLock(ctx, "D1", day, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
