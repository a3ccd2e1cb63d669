package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

var (
	ErrLockNotAcquired = errors.New("doctor day lock not acquired")
)

// Locker serializes bookings per doctor and calendar day.
type Locker interface {
	WithDayLock(ctx context.Context, doctorID string, date slots.Date, fn func(ctx context.Context) error) error
}

const (
	minRetryDelay = 10 * time.Millisecond
	maxRetryDelay = 100 * time.Millisecond
	releaseBudget = time.Second
)

// DayLocker holds a Redis key per (doctor, date) while fn runs. The key
// expires after ttl even if the holder dies; fn gets a context bounded by ttl
// so it stops before the lock can lapse under it.
type DayLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewDayLocker creates a locker. wait bounds how long WithDayLock keeps
// retrying a held key before giving up with ErrLockNotAcquired.
func NewDayLocker(client *redis.Client, ttl, wait time.Duration) *DayLocker {
	return &DayLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func DayKey(doctorID string, date slots.Date) string {
	return fmt.Sprintf("lock:doctor-day:%s:%s", doctorID, date)
}

func (l *DayLocker) WithDayLock(ctx context.Context, doctorID string, date slots.Date, fn func(ctx context.Context) error) error {
	key := DayKey(doctorID, date)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// The caller's context may already be done; still hand the key back.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseBudget)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *DayLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	delay := minRetryDelay

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire day lock: %w", err)
		}
		if ok {
			return nil
		}

		if time.Now().Add(delay).After(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *DayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release day lock: %w", err)
	}
	return nil
}
