package qobserve

import (
	"sort"
	"sync"
	"time"
)

// Metrics aggregates pool-wide execution statistics.
type Metrics struct {
	mu sync.RWMutex

	DeviceCount    int
	UnitsSubmitted int64
	UnitsCompleted int64
	UnitsFailed    int64
	UnitsRejected  int64
	TotalUnitTime  time.Duration

	AverageUnitLatency time.Duration
	P95UnitLatency     time.Duration
	P99UnitLatency     time.Duration
	UnitSuccessRate    float64

	// Per-device counters, indexed by device.
	DeviceCompleted []int64
	DeviceFailed    []int64

	latencyWindow []time.Duration
	windowSize    int
}

func NewMetrics(devices int) *Metrics {
	return &Metrics{
		DeviceCount:     devices,
		DeviceCompleted: make([]int64, devices),
		DeviceFailed:    make([]int64, devices),
		latencyWindow:   make([]time.Duration, 0, 1000), // Store last 1000 measurements
		windowSize:      1000,
	}
}

func (m *Metrics) recordSubmitted() {
	m.mu.Lock()
	m.UnitsSubmitted++
	m.mu.Unlock()
}

func (m *Metrics) recordRejected() {
	m.mu.Lock()
	m.UnitsRejected++
	m.mu.Unlock()
}

// recordUnitExecution records the outcome of one unit on one device.
func (m *Metrics) recordUnitExecution(device int, startTime time.Time, success bool) {
	duration := time.Since(startTime)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalUnitTime += duration
	if success {
		m.UnitsCompleted++
		m.DeviceCompleted[device]++
	} else {
		m.UnitsFailed++
		m.DeviceFailed[device]++
	}

	total := m.UnitsCompleted + m.UnitsFailed
	m.UnitSuccessRate = float64(m.UnitsCompleted) / float64(total)

	m.updateLatencyPercentiles(duration, total)
}

func (m *Metrics) updateLatencyPercentiles(duration time.Duration, total int64) {
	m.AverageUnitLatency = (m.AverageUnitLatency*time.Duration(total-1) + duration) / time.Duration(total)

	m.latencyWindow = append(m.latencyWindow, duration)
	if len(m.latencyWindow) > m.windowSize {
		m.latencyWindow = m.latencyWindow[1:]
	}

	sorted := make([]time.Duration, len(m.latencyWindow))
	copy(sorted, m.latencyWindow)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
	p99Index := min(int(float64(len(sorted))*0.99), len(sorted)-1)

	m.P95UnitLatency = sorted[p95Index]
	m.P99UnitLatency = sorted[p99Index]
}

// ExportMetrics returns a point-in-time snapshot suitable for logging.
func (m *Metrics) ExportMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"device_count":     m.DeviceCount,
		"units_submitted":  m.UnitsSubmitted,
		"units_completed":  m.UnitsCompleted,
		"units_failed":     m.UnitsFailed,
		"units_rejected":   m.UnitsRejected,
		"success_rate":     m.UnitSuccessRate,
		"avg_latency":      m.AverageUnitLatency.Milliseconds(),
		"p95_latency":      m.P95UnitLatency.Milliseconds(),
		"p99_latency":      m.P99UnitLatency.Milliseconds(),
		"device_completed": append([]int64(nil), m.DeviceCompleted...),
		"device_failed":    append([]int64(nil), m.DeviceFailed...),
	}
}
