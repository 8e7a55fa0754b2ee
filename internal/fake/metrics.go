package fake

import (
	"sync"
	"time"

	"github.com/hitoshi/chirp/internal/metrics"
)

// Metrics は記録内容を保持するMetricsCollector。
type Metrics struct {
	mu         sync.Mutex
	mutations  map[string]int // "operation/outcome"
	divergence map[string]int
	clamped    map[string]int
	repaired   map[string]int
}

// NewMetrics は空のMetricsを生成する。
func NewMetrics() *Metrics {
	return &Metrics{
		mutations:  map[string]int{},
		divergence: map[string]int{},
		clamped:    map[string]int{},
		repaired:   map[string]int{},
	}
}

func (m *Metrics) RecordMutation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations[operation+"/"+outcome]++
}

func (m *Metrics) RecordDualWriteDivergence(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.divergence[operation]++
}

func (m *Metrics) RecordCounterClamped(counter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clamped[counter]++
}

func (m *Metrics) RecordCounterRepaired(counter string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repaired[counter] += count
}

func (m *Metrics) RecordHTTPStatus(int) {}

func (m *Metrics) ObserveFeedRequest(string, time.Duration) {}

// Mutations はoperationとoutcomeの組の記録回数を返す。
func (m *Metrics) Mutations(operation, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations[operation+"/"+outcome]
}

// Divergence は不一致の記録回数を返す。
func (m *Metrics) Divergence(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.divergence[operation]
}

// Clamped は打ち止めの記録回数を返す。
func (m *Metrics) Clamped(counter string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clamped[counter]
}

// Repaired は修正行数の合計を返す。
func (m *Metrics) Repaired(counter string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repaired[counter]
}

var _ metrics.MetricsCollector = (*Metrics)(nil)
