package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/spotify-session-server/internal/errors"
	"github.com/jrsteele09/spotify-session-server/internal/kv"
	"github.com/jrsteele09/spotify-session-server/sessions"
)

// Locker hands out the per-session refresh lock. The lock is a key set with
// NX and a TTL, so a crashed holder's lock frees itself once the TTL passes.
type Locker struct {
	kv  kv.Store
	ttl time.Duration
}

// NewLocker creates a Locker whose locks expire after ttl
func NewLocker(backend kv.Store, ttl time.Duration) *Locker {
	return &Locker{kv: backend, ttl: ttl}
}

// Lock is a held refresh lock
type Lock struct {
	key   string
	owner string
	kv    kv.Store
}

// Acquire tries once to take the lock for sessionID. It reports false, without
// error, when another holder has it.
func (l *Locker) Acquire(ctx context.Context, sessionID string) (*Lock, bool, error) {
	lock := &Lock{
		key:   sessions.RefreshLockKey(sessionID),
		owner: uuid.NewString(),
		kv:    l.kv,
	}
	ok, err := l.kv.SetNX(ctx, lock.key, lock.owner, l.ttl)
	if err != nil {
		return nil, false, apperrors.Wrapf(apperrors.Join(apperrors.ErrServiceUnavailable, err), "[refresh Acquire] %s", lock.key)
	}
	if !ok {
		return nil, false, nil
	}
	return lock, true, nil
}

// Release deletes the lock if this holder still owns it. A lock that expired
// and was taken by someone else is left alone.
func (lk *Lock) Release(ctx context.Context) error {
	if _, err := lk.kv.DelIfValue(ctx, lk.key, lk.owner); err != nil {
		return apperrors.Wrapf(err, "[refresh Release] %s", lk.key)
	}
	return nil
}
