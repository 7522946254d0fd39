package telemetry

import "sync/atomic"

// Statistics records operation and evaluation counters. In the counting
// recorder the pass, cell and vertex counters use atomic adds and loads;
// the per-operation counters live in a plain map that RecordOperation
// writes without a lock, so Snapshot is not safe to call while another
// goroutine records operations.
type Statistics interface {
	RecordOperation(name string)
	RecordEvaluationPass(dirtyCells int)
	RecordVertexDelta(delta int)
	Snapshot() StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the counters, safe to log or
// serialize.
type StatsSnapshot struct {
	Operations       map[string]int64
	EvaluationPasses int64
	CellsEvaluated   int64
	VertexCount      int64
}

// realStats is the default, counting recorder, switched in by
// EngineConfig.UseStats.
type realStats struct {
	operations       map[string]*int64
	evaluationPasses int64
	cellsEvaluated   int64
	vertexCount      int64
}

// NewRecorder returns the counting Statistics implementation.
func NewRecorder() Statistics {
	return &realStats{operations: make(map[string]*int64)}
}

func (s *realStats) RecordOperation(name string) {
	counter, ok := s.operations[name]
	if !ok {
		var c int64
		counter = &c
		s.operations[name] = counter
	}
	atomic.AddInt64(counter, 1)
}

func (s *realStats) RecordEvaluationPass(dirtyCells int) {
	atomic.AddInt64(&s.evaluationPasses, 1)
	atomic.AddInt64(&s.cellsEvaluated, int64(dirtyCells))
}

func (s *realStats) RecordVertexDelta(delta int) {
	atomic.AddInt64(&s.vertexCount, int64(delta))
}

func (s *realStats) Snapshot() StatsSnapshot {
	ops := make(map[string]int64, len(s.operations))
	for name, counter := range s.operations {
		ops[name] = atomic.LoadInt64(counter)
	}
	return StatsSnapshot{
		Operations:       ops,
		EvaluationPasses: atomic.LoadInt64(&s.evaluationPasses),
		CellsEvaluated:   atomic.LoadInt64(&s.cellsEvaluated),
		VertexCount:      atomic.LoadInt64(&s.vertexCount),
	}
}

// noopStats discards everything; used when EngineConfig.UseStats is false.
type noopStats struct{}

// NewNoop returns the no-op Statistics implementation.
func NewNoop() Statistics { return noopStats{} }

func (noopStats) RecordOperation(string)   {}
func (noopStats) RecordEvaluationPass(int) {}
func (noopStats) RecordVertexDelta(int)    {}
func (noopStats) Snapshot() StatsSnapshot  { return StatsSnapshot{} }
