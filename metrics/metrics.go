package metrics

import (
	"github.com/saiset-co/sai-metacache/types"
)

func NewMetrics(logger types.Logger, config *types.MetricsConfig) (types.Metrics, error) {
	if config == nil || !config.Enabled {
		return NewNop(), nil
	}

	switch config.Type {
	case "", "prometheus":
		return NewPrometheusMetrics(logger, config), nil
	case "noop":
		return NewNop(), nil
	default:
		return nil, types.NewErrorf("unknown metrics type: %s", config.Type)
	}
}

func OrNop(m types.Metrics) types.Metrics {
	if m == nil {
		return NewNop()
	}
	return m
}

type nopMetrics struct{}

func NewNop() types.Metrics {
	return nopMetrics{}
}

func (nopMetrics) Counter(string, map[string]string) types.Counter {
	return emptyCounter{}
}

func (nopMetrics) Gauge(string, map[string]string) types.Gauge {
	return emptyGauge{}
}

type emptyCounter struct{}

func (emptyCounter) Inc()         {}
func (emptyCounter) Add(float64)  {}
func (emptyCounter) Get() float64 { return 0 }

type emptyGauge struct{}

func (emptyGauge) Set(float64)  {}
func (emptyGauge) Inc()         {}
func (emptyGauge) Dec()         {}
func (emptyGauge) Add(float64)  {}
func (emptyGauge) Sub(float64)  {}
func (emptyGauge) Get() float64 { return 0 }
