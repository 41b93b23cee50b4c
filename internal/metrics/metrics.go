package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	failures      map[string]map[string]int64
	healthStatus  map[string]bool
	circuitState  map[string]circuitbreaker.State
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests   int64                     `json:"total_requests"`
	TotalRejections int64                     `json:"total_rejections"`
	Uptime          time.Duration             `json:"uptime"`
	Services        map[string]ServiceMetrics `json:"services"`
}

type ServiceMetrics struct {
	Requests       int64            `json:"requests"`
	Rejections     int64            `json:"rejections"`
	Healthy        bool             `json:"healthy"`
	CircuitState   string           `json:"circuit_state"`
	AvgResponse    time.Duration    `json:"avg_response"`
	P50Response    time.Duration    `json:"p50_response"`
	P95Response    time.Duration    `json:"p95_response"`
	P99Response    time.Duration    `json:"p99_response"`
	StatusCodes    map[int]int64    `json:"status_codes"`
	Failures       map[string]int64 `json:"failures,omitempty"`
	ActiveRequests int              `json:"active_requests"`
	EWMAResponse   time.Duration    `json:"ewma_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		failures:      make(map[string]map[string]int64),
		healthStatus:  make(map[string]bool),
		circuitState:  make(map[string]circuitbreaker.State),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[service]++
}

func (m *Metrics) IncrementRejections(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[service]++
}

// RecordResponse stores a completed call. statusCode is 0 when the backend
// never answered; outcome then names the failure kind.
func (m *Metrics) RecordResponse(service string, duration time.Duration, statusCode int, outcome string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[service] = append(m.responseTimes[service], duration)
	if len(m.responseTimes[service]) > maxSamples {
		m.responseTimes[service] = m.responseTimes[service][1:]
	}

	if statusCode == 0 {
		if m.failures[service] == nil {
			m.failures[service] = make(map[string]int64)
		}
		m.failures[service][outcome]++
		return
	}

	if m.statusCodes[service] == nil {
		m.statusCodes[service] = make(map[int]int64)
	}
	m.statusCodes[service][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(service string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[service] = healthy
}

func (m *Metrics) UpdateCircuitState(service string, state circuitbreaker.State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitState[service] = state
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Services: make(map[string]ServiceMetrics),
	}

	all := make(map[string]bool)
	for _, src := range []map[string]int64{m.requests, m.rejections} {
		for service := range src {
			all[service] = true
		}
	}
	for service := range m.responseTimes {
		all[service] = true
	}
	for service := range m.healthStatus {
		all[service] = true
	}
	for service := range m.circuitState {
		all[service] = true
	}

	for service := range all {
		snap.TotalRequests += m.requests[service]
		snap.TotalRejections += m.rejections[service]

		sm := ServiceMetrics{
			Requests:     m.requests[service],
			Rejections:   m.rejections[service],
			Healthy:      m.healthStatus[service],
			CircuitState: m.circuitState[service].String(),
			StatusCodes:  copyCounts(m.statusCodes[service]),
			Failures:     copyCounts(m.failures[service]),
		}

		durations := m.responseTimes[service]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[service] = sm
	}

	return snap
}

func copyCounts[K comparable](src map[K]int64) map[K]int64 {
	if src == nil {
		return nil
	}
	out := make(map[K]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
