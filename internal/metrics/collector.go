// Package metrics records pipeline stage timings and LLM usage, in memory for the
// status surface and as Prometheus collectors for scraping.
package metrics

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Recorder receives pipeline observations. All implementations are thread-safe.
type Recorder interface {
	ObserveRun(status string, duration time.Duration)
	ObserveStage(stage, outcome string, duration time.Duration)
	ObserveLLM(model, kind string, success bool, inputTokens, outputTokens int64, duration time.Duration)
	ObserveEmbedding(duration time.Duration)
	SetIndexed(collection string, n int)
}

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the full pipeline statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Runs          map[string]int64              `json:"runs"`
	Stages        map[string]*OperationSnapshot `json:"stages"`
	LLMGenerate   *OperationSnapshot            `json:"llm_generate,omitempty"`
	Embedding     *OperationSnapshot            `json:"embedding,omitempty"`
	Indexed       map[string]int                `json:"indexed"`
}

// Operation names for the collector.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	opStagePrefix = "stage:"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	runs      map[string]int64
	indexed   map[string]int
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		runs:      make(map[string]int64),
		indexed:   make(map[string]int),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// recordTiming updates count and timing. Caller must hold write lock.
func (m *OperationMetrics) recordTiming(duration time.Duration) {
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).recordTiming(duration)
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.recordTiming(duration)

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens

	if inputTokens < m.MinInputTokens {
		m.MinInputTokens = inputTokens
	}
	if inputTokens > m.MaxInputTokens {
		m.MaxInputTokens = inputTokens
	}
	if outputTokens < m.MinOutputTokens {
		m.MinOutputTokens = outputTokens
	}
	if outputTokens > m.MaxOutputTokens {
		m.MaxOutputTokens = outputTokens
	}
}

func (c *Collector) ObserveRun(status string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[status]++
}

func (c *Collector) ObserveStage(stage, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(opStagePrefix + stage)
	m.recordTiming(duration)
	if outcome == "failed" {
		m.Failures++
	}
}

func (c *Collector) ObserveLLM(_, _ string, success bool, inputTokens, outputTokens int64, duration time.Duration) {
	if !success {
		c.mu.Lock()
		m := c.getOrCreate(OpLLMGenerate)
		m.recordTiming(duration)
		m.Failures++
		c.mu.Unlock()
		return
	}
	c.RecordLLMUsage(OpLLMGenerate, duration, inputTokens, outputTokens)
}

func (c *Collector) ObserveEmbedding(duration time.Duration) {
	c.RecordTiming(OpEmbedding, duration)
}

func (c *Collector) SetIndexed(collection string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexed[collection] = n
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		minIn := m.MinInputTokens
		maxIn := m.MaxInputTokens
		minOut := m.MinOutputTokens
		maxOut := m.MaxOutputTokens

		// Reset sentinel values for display
		if minIn == math.MaxInt64 {
			minIn = 0
		}
		if minOut == math.MaxInt64 {
			minOut = 0
		}

		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
		snap.MinInputTokens = &minIn
		snap.MaxInputTokens = &maxIn
		snap.MinOutputTokens = &minOut
		snap.MaxOutputTokens = &maxOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Runs:          make(map[string]int64, len(c.runs)),
		Stages:        make(map[string]*OperationSnapshot),
		LLMGenerate:   snapshotOp(c.ops[OpLLMGenerate], true),
		Embedding:     snapshotOp(c.ops[OpEmbedding], false),
		Indexed:       make(map[string]int, len(c.indexed)),
	}
	for status, n := range c.runs {
		snap.Runs[status] = n
	}
	for collection, n := range c.indexed {
		snap.Indexed[collection] = n
	}

	for op, m := range c.ops {
		if stage, ok := strings.CutPrefix(op, opStagePrefix); ok {
			snap.Stages[stage] = snapshotOp(m, false)
		}
	}
	return snap
}
