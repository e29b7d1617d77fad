package types

import (
	"context"
	"time"
)

// ControlState is the shared coordination state kept next to the data.
// An empty LockOwner means unlocked.
type ControlState struct {
	LockOwner  string `json:"lock_owner"`
	Generation int64  `json:"generation"`
}

func (s ControlState) Locked() bool {
	return s.LockOwner != ""
}

// BlockedFor reports whether the lock is held by someone other than owner.
func (s ControlState) BlockedFor(owner string) bool {
	return s.LockOwner != "" && s.LockOwner != owner
}

type StoreStats struct {
	Items int64 `json:"items"`
}

// BackingStore is the data plane of the remote key-value service. A value the
// service refuses for its size is reported as ErrValueTooLarge.
type BackingStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	// Read fetches keys and the control state in a single round trip.
	Read(ctx context.Context, keys []string) (map[string][]byte, ControlState, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMulti(ctx context.Context, keys []string) error
	FlushAll(ctx context.Context) error
	Stats(ctx context.Context) (StoreStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// ControlPlane holds the lock owner and the clear generation in a namespace
// caller keys cannot reach.
type ControlPlane interface {
	Control(ctx context.Context) (ControlState, error)
	// WriteLock records owner unconditionally.
	WriteLock(ctx context.Context, owner string, ttl time.Duration) error
	// TryLock records owner only when the lock is free or already owned by owner.
	TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context) error
	// Reset empties the data plane, publishes owner as lock holder and bumps
	// the generation in one step. It returns the new generation.
	Reset(ctx context.Context, owner string, lockTTL time.Duration) (int64, error)
}

type Backend interface {
	BackingStore
	ControlPlane
}

type BackendCreator func(config *BackendConfig, logger Logger) (Backend, error)
