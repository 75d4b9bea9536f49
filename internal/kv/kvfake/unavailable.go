// Package kvfake holds kv.Store doubles for tests
package kvfake

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/spotify-session-server/internal/kv"
)

// ErrUnavailable is returned by every operation while a FlakyStore is down
var ErrUnavailable = errors.New("kvfake: connection refused")

var _ kv.Store = (*FlakyStore)(nil)

// FlakyStore wraps a Store and fails every call while Down is set
type FlakyStore struct {
	kv.Store
	down atomic.Bool
}

// NewFlakyStore wraps an in-memory store
func NewFlakyStore() *FlakyStore {
	return &FlakyStore{Store: kv.NewMemoryStore()}
}

// SetDown toggles the simulated outage
func (f *FlakyStore) SetDown(down bool) {
	f.down.Store(down)
}

func (f *FlakyStore) fail() error {
	if f.down.Load() {
		return ErrUnavailable
	}
	return nil
}

func (f *FlakyStore) Get(ctx context.Context, key string) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.Store.Get(ctx, key)
}

func (f *FlakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *FlakyStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.Store.SetNX(ctx, key, value, ttl)
}

func (f *FlakyStore) GetDel(ctx context.Context, key string) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.Store.GetDel(ctx, key)
}

func (f *FlakyStore) Del(ctx context.Context, keys ...string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Del(ctx, keys...)
}

func (f *FlakyStore) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return f.Store.DelIfValue(ctx, key, value)
}

func (f *FlakyStore) SAdd(ctx context.Context, key string, members ...string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.SAdd(ctx, key, members...)
}

func (f *FlakyStore) SRem(ctx context.Context, key string, members ...string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.SRem(ctx, key, members...)
}

func (f *FlakyStore) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Store.SMembers(ctx, key)
}

func (f *FlakyStore) Ping(ctx context.Context) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}
