package scheduling

import (
	"context"
	"sync"
	"time"

	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

// LocalLocker serializes bookings per doctor and day inside one process.
// Entries are reference counted and dropped once nobody waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*dayLock
	wait  time.Duration
}

type dayLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{locks: make(map[string]*dayLock), wait: wait}
}

func (l *LocalLocker) WithDayLock(ctx context.Context, doctorID string, date slots.Date, fn func(ctx context.Context) error) error {
	key := redisclient.DayKey(doctorID, date)
	dl := l.ref(key)
	defer l.unref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case dl.ch <- struct{}{}:
	case <-timer.C:
		return redisclient.ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-dl.ch }()

	return fn(ctx)
}

func (l *LocalLocker) ref(key string) *dayLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	dl, ok := l.locks[key]
	if !ok {
		dl = &dayLock{ch: make(chan struct{}, 1)}
		l.locks[key] = dl
	}
	dl.refs++
	return dl
}

func (l *LocalLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dl := l.locks[key]
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are tracked.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
