package shared

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
)

// SoftLockPrefix starts every process lock key.
const SoftLockPrefix = "process_lock:"

// SoftLockKey builds the redis key of a process lock on a document.
func SoftLockKey(resource string, id int64) string {
	return fmt.Sprintf("%s%s:%d", SoftLockPrefix, resource, id)
}

// SoftLocker hands out advisory locks that tell concurrent users a workflow is already
// running on a document. Correctness never depends on them; row locks inside the
// database transaction do.
type SoftLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewSoftLocker constructs a SoftLocker. A nil client yields a locker whose locks always succeed.
func NewSoftLocker(client redislock.RedisClient, ttl time.Duration) *SoftLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := &SoftLocker{ttl: ttl}
	if client != nil {
		l.client = redislock.New(client)
	}
	return l
}

// SoftLock is a held process lock.
type SoftLock struct {
	lock *redislock.Lock
}

// Acquire obtains the lock for resource/id on behalf of holder.
func (l *SoftLocker) Acquire(ctx context.Context, resource string, id, holder int64) (*SoftLock, error) {
	if l == nil || l.client == nil {
		return &SoftLock{}, nil
	}
	lock, err := l.client.Obtain(ctx, SoftLockKey(resource, id), l.ttl, &redislock.Options{
		Metadata: strconv.FormatInt(holder, 10),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, Conflict(CodeLocked, "%s %d is being processed by another user", resource, id).
			WithEntity(resource, id).
			WithHint("wait for the other operation to finish and retry")
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain soft lock: %w", err)
	}
	return &SoftLock{lock: lock}, nil
}

// Release frees the lock. Releasing an expired lock is not an error.
func (s *SoftLock) Release(ctx context.Context) error {
	if s == nil || s.lock == nil {
		return nil
	}
	if err := s.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}
	return nil
}
