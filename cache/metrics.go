package cache

import (
	"github.com/saiset-co/sai-metacache/types"
)

const (
	layerLocal    = "local"
	layerOversize = "oversize"
	layerBuffer   = "buffer"
	layerStore    = "store"
	layerShadow   = "shadow"
)

type cacheMetrics struct {
	metrics types.Metrics
	cache   string
}

func newCacheMetrics(m types.Metrics, cache string) cacheMetrics {
	return cacheMetrics{metrics: m, cache: cache}
}

func (c cacheMetrics) hit(layer string) {
	c.metrics.Counter("cache_hits_total", map[string]string{"cache": c.cache, "layer": layer}).Inc()
}

func (c cacheMetrics) miss() {
	c.metrics.Counter("cache_misses_total", map[string]string{"cache": c.cache}).Inc()
}

func (c cacheMetrics) evicted(reason string, n int) {
	if n == 0 {
		return
	}
	c.metrics.Counter("cache_evictions_total", map[string]string{"cache": c.cache, "reason": reason}).Add(float64(n))
}

func (c cacheMetrics) trimmed() {
	c.metrics.Counter("cache_trims_total", map[string]string{"cache": c.cache}).Inc()
}

func (c cacheMetrics) flushed(keys int) {
	c.metrics.Counter("cache_flushes_total", map[string]string{"cache": c.cache}).Inc()
	c.metrics.Counter("cache_flushed_keys_total", map[string]string{"cache": c.cache}).Add(float64(keys))
}

func (c cacheMetrics) flushFailed(reason string, n int) {
	if n == 0 {
		return
	}
	c.metrics.Counter("cache_flush_failures_total", map[string]string{"cache": c.cache, "reason": reason}).Add(float64(n))
}

func (c cacheMetrics) demoted() {
	c.metrics.Counter("cache_oversize_demotions_total", map[string]string{"cache": c.cache}).Inc()
}

func (c cacheMetrics) healed(n int) {
	if n == 0 {
		return
	}
	c.metrics.Counter("cache_self_heals_total", map[string]string{"cache": c.cache}).Add(float64(n))
}

func (c cacheMetrics) lockWait() {
	c.metrics.Counter("cache_lock_waits_total", map[string]string{"cache": c.cache}).Inc()
}

func (c cacheMetrics) generationReset() {
	c.metrics.Counter("cache_generation_resets_total", map[string]string{"cache": c.cache}).Inc()
}

func (c cacheMetrics) bufferSize(n int) {
	c.metrics.Gauge("cache_write_buffer_size", map[string]string{"cache": c.cache}).Set(float64(n))
}
