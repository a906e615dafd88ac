// Package lock provides room-level locking for lifecycle operations.
// Settlement and stop must exclude each other (and any other lifecycle
// call racing over REST) for the same room; live gameplay is serialized by
// the room actor itself and never takes these locks.
package lock

import (
	"context"
	"sync"
	"time"
)

// roomMutex wraps a mutex with reference counting for cleanup.
type roomMutex struct {
	mu       sync.Mutex
	refCount int
}

// RoomLock provides per-room locking to prevent races between lifecycle
// operations arriving from the operator surface.
type RoomLock struct {
	locks sync.Map // map[string]*roomMutex
	pool  sync.Pool
}

// NewRoomLock creates a new RoomLock instance.
func NewRoomLock() *RoomLock {
	return &RoomLock{
		pool: sync.Pool{
			New: func() any {
				return &roomMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given room ID.
func (rl *RoomLock) getLock(roomID string) *roomMutex {
	if v, ok := rl.locks.Load(roomID); ok {
		return v.(*roomMutex)
	}

	newLock := rl.pool.Get().(*roomMutex)
	newLock.refCount = 0

	// Store or load existing (handles race condition).
	actual, loaded := rl.locks.LoadOrStore(roomID, newLock)
	if loaded {
		rl.pool.Put(newLock)
	}
	return actual.(*roomMutex)
}

// Lock acquires the lock for a room.
func (rl *RoomLock) Lock(roomID string) {
	lock := rl.getLock(roomID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a room.
func (rl *RoomLock) Unlock(roomID string) {
	if v, ok := rl.locks.Load(roomID); ok {
		lock := v.(*roomMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (rl *RoomLock) TryLock(roomID string) bool {
	lock := rl.getLock(roomID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// LockWithTimeout attempts to acquire the lock with a timeout.
// Returns true if the lock was acquired, false if timeout occurred.
func (rl *RoomLock) LockWithTimeout(ctx context.Context, roomID string, timeout time.Duration) bool {
	lock := rl.getLock(roomID)

	done := make(chan struct{})
	go func() {
		lock.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		lock.refCount++
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine will eventually acquire the mutex; release
		// it again so the lock is not leaked.
		go func() {
			<-done
			lock.mu.Unlock()
		}()
		return false
	}
}

// WithLock executes a function while holding the room's lock.
func (rl *RoomLock) WithLock(roomID string, fn func() error) error {
	rl.Lock(roomID)
	defer rl.Unlock(roomID)
	return fn()
}

// WithLockContext executes a function while holding the room's lock,
// with context support for cancellation.
func (rl *RoomLock) WithLockContext(ctx context.Context, roomID string, timeout time.Duration, fn func() error) error {
	if !rl.LockWithTimeout(ctx, roomID, timeout) {
		return ErrLockTimeout
	}
	defer rl.Unlock(roomID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// IsLocked checks if a room currently has an active lock.
// Note: this is a point-in-time check and may change immediately after.
func (rl *RoomLock) IsLocked(roomID string) bool {
	if v, ok := rl.locks.Load(roomID); ok {
		lock := v.(*roomMutex)
		if lock.mu.TryLock() {
			lock.mu.Unlock()
			return false
		}
		return true
	}
	return false
}
