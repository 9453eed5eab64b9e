// Package observability tracks command execution statistics for redisql.
package observability

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the execution counters.
type Snapshot struct {
	// Command statistics
	CommandsExecuted  int64
	CommandsSucceeded int64
	CommandsFailed    int64
	TotalTimeNs       int64

	// Failures keyed by error class (parse, argument, store, ...)
	Failures map[string]int64

	// Executions keyed by verb
	Verbs map[string]int64

	// Commands sent through the raw pass-through path
	Passthrough int64

	RowsProduced int64

	StartTime time.Time
}

// Statistics tracks command execution metrics. It is safe for concurrent use.
type Statistics struct {
	mu     sync.RWMutex
	totals Snapshot
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{totals: Snapshot{
		Failures:  make(map[string]int64),
		Verbs:     make(map[string]int64),
		StartTime: time.Now(),
	}}
}

// Execution describes one finished command.
type Execution struct {
	Verb        string
	Passthrough bool
	// FailureClass is empty for successful commands.
	FailureClass string
	Rows         int
	Duration     time.Duration
}

// Record adds one execution to the totals.
func (s *Statistics) Record(e Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &s.totals
	t.CommandsExecuted++
	t.TotalTimeNs += e.Duration.Nanoseconds()
	if e.Verb != "" {
		t.Verbs[e.Verb]++
	}
	if e.Passthrough {
		t.Passthrough++
	}

	if e.FailureClass == "" {
		t.CommandsSucceeded++
		t.RowsProduced += int64(e.Rows)
	} else {
		t.CommandsFailed++
		t.Failures[e.FailureClass]++
	}
}

// Snapshot returns a copy of current statistics.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.totals
	snap.Failures = make(map[string]int64, len(s.totals.Failures))
	for k, v := range s.totals.Failures {
		snap.Failures[k] = v
	}
	snap.Verbs = make(map[string]int64, len(s.totals.Verbs))
	for k, v := range s.totals.Verbs {
		snap.Verbs[k] = v
	}
	return snap
}

// Metric is one named value for display.
type Metric struct {
	Name  string
	Value interface{}
}

// Metrics flattens a snapshot into name/value pairs, followed by per-class
// failures and per-verb counts in sorted order.
func (s *Statistics) Metrics() []Metric {
	stats := s.Snapshot()
	uptime := time.Since(stats.StartTime)

	metrics := []Metric{
		{"uptime_seconds", int64(uptime.Seconds())},
		{"commands_executed", stats.CommandsExecuted},
		{"commands_succeeded", stats.CommandsSucceeded},
		{"commands_failed", stats.CommandsFailed},
		{"avg_command_time_ms", stats.AvgCommandTimeMs()},
		{"passthrough_commands", stats.Passthrough},
		{"rows_produced", stats.RowsProduced},
	}
	for _, k := range sortedKeys(stats.Failures) {
		metrics = append(metrics, Metric{"failures_" + k, stats.Failures[k]})
	}
	for _, k := range sortedKeys(stats.Verbs) {
		metrics = append(metrics, Metric{"verb_" + k, stats.Verbs[k]})
	}
	return metrics
}

// MemoryMetrics returns process memory metrics.
func MemoryMetrics() []Metric {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return []Metric{
		{"heap_alloc_mb", m.HeapAlloc / 1024 / 1024},
		{"heap_objects", m.HeapObjects},
		{"goroutines", runtime.NumGoroutine()},
		{"gc_cycles", m.NumGC},
	}
}

// AvgCommandTimeMs is the mean command duration in milliseconds.
func (s Snapshot) AvgCommandTimeMs() float64 {
	if s.CommandsExecuted == 0 {
		return 0
	}
	return float64(s.TotalTimeNs) / float64(s.CommandsExecuted) / 1e6
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
