package metrics

import (
	"math"
	"sync"
	"time"
)

// TimerMetric is a summary of recorded durations for one operation.
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric tracks how often an operation fails.
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timerState struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

type errorState struct {
	total  int64
	errors int64
}

// Metrics is an in-process collector for counters, gauges, timers, error
// rates and component health, served as JSON by the metrics handler.
type Metrics struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]int64
	timers     map[string]*timerState
	errorRates map[string]*errorState
	health     map[string]bool
	startTime  time.Time
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]int64),
		timers:     make(map[string]*timerState),
		errorRates: make(map[string]*errorState),
		health:     make(map[string]bool),
		startTime:  time.Now(),
	}
}

// IncrementCounter increments a counter by 1.
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the given value.
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
}

// SetGauge sets a gauge to a point-in-time value.
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

// RecordTimer records one duration measurement in milliseconds.
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[name]
	if !ok {
		t = &timerState{minMs: math.MaxInt64}
		m.timers[name] = t
	}
	t.count++
	t.totalMs += durationMs
	if durationMs < t.minMs {
		t.minMs = durationMs
	}
	if durationMs > t.maxMs {
		t.maxMs = durationMs
	}
}

// RecordSuccess records a successful attempt for error rate tracking.
func (m *Metrics) RecordSuccess(name string) {
	m.recordAttempt(name, false)
}

// RecordError records a failed attempt for error rate tracking.
func (m *Metrics) RecordError(name string) {
	m.recordAttempt(name, true)
}

func (m *Metrics) recordAttempt(name string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.errorRates[name]
	if !ok {
		e = &errorState{}
		m.errorRates[name] = e
	}
	e.total++
	if failed {
		e.errors++
	}
}

// SetHealth records whether a dependency is currently healthy.
func (m *Metrics) SetHealth(component string, healthy bool) {
	m.mu.Lock()
	m.health[component] = healthy
	m.mu.Unlock()
}

// GetCounters returns a snapshot of all counters.
func (m *Metrics) GetCounters() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		out[name] = v
	}
	return out
}

// GetGauges returns a snapshot of all gauges.
func (m *Metrics) GetGauges() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		out[name] = v
	}
	return out
}

// GetTimers returns a snapshot of all timer summaries.
func (m *Metrics) GetTimers() map[string]TimerMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]TimerMetric, len(m.timers))
	for name, t := range m.timers {
		var avg float64
		if t.count > 0 {
			avg = float64(t.totalMs) / float64(t.count)
		}
		out[name] = TimerMetric{
			Count:         t.count,
			TotalTimeMs:   t.totalMs,
			AverageTimeMs: avg,
			MinTimeMs:     t.minMs,
			MaxTimeMs:     t.maxMs,
		}
	}
	return out
}

// GetErrorRates returns a snapshot of all error rates as percentages.
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ErrorRateMetric, len(m.errorRates))
	for name, e := range m.errorRates {
		var rate float64
		if e.total > 0 {
			rate = float64(e.errors) / float64(e.total) * 100.0
		}
		out[name] = ErrorRateMetric{Total: e.total, Errors: e.errors, ErrorRate: rate}
	}
	return out
}

// GetHealthChecks returns a snapshot of component health.
func (m *Metrics) GetHealthChecks() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(m.health))
	for name, v := range m.health {
		out[name] = v
	}
	return out
}

// GetUptimeSeconds returns seconds since the collector was created.
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns every metric family keyed for JSON serving.
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}
