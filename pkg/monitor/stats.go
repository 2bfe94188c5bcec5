package monitor

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SearchStats counts branch-and-bound work. Counters are safe for concurrent
// use by bound-evaluation workers.
type SearchStats struct {
	Expanded   uint64
	Generated  uint64
	PrunedCost uint64
	PrunedLB   uint64
	Incumbents uint64
	WSCRuns    uint64
}

func NewSearchStats() *SearchStats {
	return &SearchStats{}
}

func (s *SearchStats) RecordExpand() {
	atomic.AddUint64(&s.Expanded, 1)
}

func (s *SearchStats) RecordNeighbor() {
	atomic.AddUint64(&s.Generated, 1)
}

// RecordPruneCost counts a neighbor whose own cost already reaches the incumbent.
func (s *SearchStats) RecordPruneCost() {
	atomic.AddUint64(&s.PrunedCost, 1)
}

// RecordPruneLB counts a neighbor discarded by its lower bound.
func (s *SearchStats) RecordPruneLB() {
	atomic.AddUint64(&s.PrunedLB, 1)
}

func (s *SearchStats) RecordIncumbent() {
	atomic.AddUint64(&s.Incumbents, 1)
}

func (s *SearchStats) RecordWSC() {
	atomic.AddUint64(&s.WSCRuns, 1)
}

// PruneRatio is the share of generated neighbors that were pruned.
func (s *SearchStats) PruneRatio() float64 {
	gen := atomic.LoadUint64(&s.Generated)
	if gen == 0 {
		return 0
	}
	pruned := atomic.LoadUint64(&s.PrunedCost) + atomic.LoadUint64(&s.PrunedLB)
	return float64(pruned) / float64(gen)
}

// MarshalLogObject lets the stats be logged with zap.Object.
func (s *SearchStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("expanded", atomic.LoadUint64(&s.Expanded))
	enc.AddUint64("generated", atomic.LoadUint64(&s.Generated))
	enc.AddUint64("pruned_cost", atomic.LoadUint64(&s.PrunedCost))
	enc.AddUint64("pruned_lb", atomic.LoadUint64(&s.PrunedLB))
	enc.AddUint64("incumbents", atomic.LoadUint64(&s.Incumbents))
	enc.AddUint64("wsc_runs", atomic.LoadUint64(&s.WSCRuns))
	enc.AddFloat64("prune_ratio", s.PruneRatio())
	return nil
}

// Field is shorthand for zap.Object("search", s).
func (s *SearchStats) Field() zap.Field {
	return zap.Object("search", s)
}
