package cache

import (
	"time"

	"github.com/saiset-co/sai-metacache/logger"
	"github.com/saiset-co/sai-metacache/metrics"
	"github.com/saiset-co/sai-metacache/types"
)

type Option func(*options)

type options struct {
	logger          types.Logger
	metrics         types.Metrics
	defaultLifetime types.Lifetime
	lifetimeFunc    types.Lifetime
	clock           func() time.Time
	owner           string
}

func WithLogger(l types.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(m types.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithDefaultLifetime sets the constant lifetime used when a write names none.
func WithDefaultLifetime(l types.Lifetime) Option {
	return func(o *options) {
		o.defaultLifetime = l
	}
}

func WithDefaultTTL(d time.Duration) Option {
	return WithDefaultLifetime(types.Fixed(d))
}

// WithLifetimeFunc derives the lifetime from the value when neither the write
// nor WithDefaultLifetime names one.
func WithLifetimeFunc(fn func(value any) time.Duration) Option {
	return func(o *options) {
		o.lifetimeFunc = types.Computed(fn)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithOwner overrides the lock owner identity of a distributed cache.
func WithOwner(owner string) Option {
	return func(o *options) {
		o.owner = owner
	}
}

func buildOptions(opts []Option) *options {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	o.logger = logger.OrNop(o.logger)
	o.metrics = metrics.OrNop(o.metrics)
	if o.clock == nil {
		o.clock = time.Now
	}

	return o
}

func (o *options) resolveLifetime(value any, explicit types.Lifetime) time.Duration {
	return types.ResolveLifetime(value, explicit, o.defaultLifetime, o.lifetimeFunc)
}
