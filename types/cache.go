package types

import (
	"context"
	"time"
)

// Cache is the contract shared by the in-process and distributed caches.
// Callers hold one instance for the life of the process and never branch on
// the concrete variant.
type Cache[V any] interface {
	LifecycleManager

	Get(ctx context.Context, key string) (V, bool, error)
	Value(ctx context.Context, key string) (V, error)
	GetMulti(ctx context.Context, keys []string) (map[string]V, error)
	GetLocal(key string) (V, bool)
	GetNow(ctx context.Context, key string) (V, bool, error)

	Set(ctx context.Context, key string, value V, opts ...SetOption) error
	SetMulti(ctx context.Context, items map[string]V, opts ...SetOption) error
	SetLocal(key string, value V, opts ...SetOption) error

	Delete(ctx context.Context, key string) error
	DeleteMulti(ctx context.Context, keys []string) error
	Clear(ctx context.Context, block bool) error
	Flush(ctx context.Context, wait bool) ([]string, error)

	Block(ctx context.Context) error
	Unblock(ctx context.Context, flush bool) (bool, error)
	IsBlocked(ctx context.Context) (bool, error)

	Pause()
	Resume(ctx context.Context) error
	IsPaused() bool

	ReplicateClear(generation int64)
	ReplicateClearIfNecessary(ctx context.Context) (bool, error)
	WasCleared() bool

	Contains(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// Lifetime decides how long a stored value lives. The zero Lifetime is
// "unset" and defers to the cache defaults.
type Lifetime struct {
	kind    lifetimeKind
	fixed   time.Duration
	compute func(value any) time.Duration
}

type lifetimeKind uint8

const (
	lifetimeUnset lifetimeKind = iota
	lifetimeFixed
	lifetimeComputed
)

// Permanent values never expire.
func Permanent() Lifetime {
	return Lifetime{kind: lifetimeFixed}
}

// Fixed returns a constant lifetime. Zero or negative durations are permanent.
func Fixed(d time.Duration) Lifetime {
	if d < 0 {
		d = 0
	}
	return Lifetime{kind: lifetimeFixed, fixed: d}
}

// Computed derives the lifetime from the value being written.
func Computed(fn func(value any) time.Duration) Lifetime {
	if fn == nil {
		return Lifetime{}
	}
	return Lifetime{kind: lifetimeComputed, compute: fn}
}

func (l Lifetime) IsSet() bool {
	return l.kind != lifetimeUnset
}

// Resolve returns the concrete duration for value; 0 means permanent.
func (l Lifetime) Resolve(value any) time.Duration {
	switch l.kind {
	case lifetimeFixed:
		return l.fixed
	case lifetimeComputed:
		d := l.compute(value)
		if d < 0 {
			return 0
		}
		return d
	default:
		return 0
	}
}

// ResolveLifetime walks explicit > default constant > default function and
// falls back to permanent.
func ResolveLifetime(value any, explicit Lifetime, defaults ...Lifetime) time.Duration {
	if explicit.IsSet() {
		return explicit.Resolve(value)
	}
	for _, l := range defaults {
		if l.IsSet() {
			return l.Resolve(value)
		}
	}
	return 0
}

type SetOptions struct {
	Lifetime Lifetime
	Pause    bool
}

type SetOption func(*SetOptions)

func WithLifetime(l Lifetime) SetOption {
	return func(o *SetOptions) {
		o.Lifetime = l
	}
}

func WithTTL(d time.Duration) SetOption {
	return WithLifetime(Fixed(d))
}

// WithPause suppresses the trim or flush check that would follow the write.
func WithPause() SetOption {
	return func(o *SetOptions) {
		o.Pause = true
	}
}

func ApplySetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type CacheCreator[V any] func(config *CacheConfig) (Cache[V], error)
