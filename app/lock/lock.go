// Package lock provides mutual exclusion for webhook/event processing
// keyed on a shared store. A holder is recognized by a timestamp value; a
// value older than the TTL is treated as abandoned so a crashed holder
// that never released cannot block the key forever.
package lock

import (
	"context"
	"strconv"
	"time"
)

const (
	ModeWait   int32 = 1
	ModeReturn int32 = 2
)

type Options struct {
	Mode    int32
	MaxWait time.Duration
	Sleep   time.Duration
	TTL     time.Duration
}

// Result reports what happened to the guarded work. Completed is true only
// when the lock was acquired and fn ran; event consumers use it to decide
// between acknowledging and redelivering a message. Conflict is true when
// another holder was detected.
type Result struct {
	Completed bool
	Conflict  bool
}

// Store is the shared key-value store behind the lock. GetSet must be a
// single atomic get-and-set; Get must not modify the key.
type Store interface {
	Get(ctx context.Context, key string) (value string, existed bool, err error)
	GetSet(ctx context.Context, key, value string) (prev string, existed bool, err error)
	Delete(ctx context.Context, key string) error
}

type Locker struct {
	store Store
	now   func() time.Time
}

func NewLocker(store Store) *Locker {
	return &Locker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithLock runs fn while holding key. In ModeReturn a held key fails fast
// with a conflict; in ModeWait acquisition is retried every opts.Sleep
// until opts.MaxWait is exhausted. On acquisition the key is released
// after fn on every exit path, including panics.
func (l *Locker) WithLock(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) (Result, error) {
	opts = withDefaults(opts)

	acquired, err := l.acquire(ctx, key, opts.TTL)
	if err != nil {
		return Result{}, err
	}

	if !acquired {
		if opts.Mode == ModeReturn {
			return Result{Conflict: true}, nil
		}

		deadline := l.now().Add(opts.MaxWait)
		for !acquired {
			if !l.now().Before(deadline) {
				return Result{Conflict: true}, nil
			}
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(opts.Sleep):
			}
			acquired, err = l.acquire(ctx, key, opts.TTL)
			if err != nil {
				return Result{}, err
			}
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.store.Delete(releaseCtx, key)
	}()

	return Result{Completed: true}, fn(ctx)
}

// acquire claims key unless a live holder is observed. The read-only probe
// decides whether to claim at all: a losing probe must leave the key
// untouched, or waiting callers would keep refreshing a crashed holder's
// timestamp and the TTL could never expire. GetSet arbitrates between
// concurrent claimers that each observed a missing or stale holder.
func (l *Locker) acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.now()
	current, existed, err := l.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if existed && !stale(current, now, ttl) {
		return false, nil
	}

	prev, existed, err := l.store.GetSet(ctx, key, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return false, err
	}
	if !existed {
		return true, nil
	}
	return stale(prev, now, ttl), nil
}

// stale treats an unreadable holder value as abandoned rather than wedge
// the key.
func stale(value string, now time.Time, ttl time.Duration) bool {
	held, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return true
	}
	return now.Sub(time.Unix(held, 0)) > ttl
}

func withDefaults(opts Options) Options {
	if opts.Mode == 0 {
		opts.Mode = ModeWait
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.Sleep <= 0 {
		opts.Sleep = time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 60 * time.Second
	}
	return opts
}
