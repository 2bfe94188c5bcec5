package core

import (
	"fmt"
	"math"
	"sort"

	"cqadvisor/pkg/cardinality"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/util/intset"
)

type IndexID int

// CostModel holds the constants that turn cardinalities into bytes and time.
type CostModel struct {
	SeekTime        float64 // per index lookup
	ReadTimePerUnit float64 // per byte read from disk
	MemWeight       float64 // storage cost per byte of the in-memory bound prefix
	DiskWeight      float64 // storage cost per byte on disk
	IntWidth        float64 // bytes per integer value
}

func DefaultCostModel() CostModel {
	return CostModel{
		SeekTime:        10,
		ReadTimePerUnit: 1e-5,
		MemWeight:       1,
		DiskWeight:      0.01,
		IntWidth:        4,
	}
}

// Index is a candidate stored view. Its rows are laid out with the bound head
// variables first (the in-memory lookup prefix) and the free head variables
// after, each group ordered by ascending estimated cardinality.
type Index struct {
	id       IndexID
	e        *expr.Expression
	est      *cardinality.Estimator
	layout   []int
	numBound int
	counts   []float64 // distinct layout prefixes, per layout position

	memBytes  float64
	diskBytes float64
	storage   float64
	avgBlock  float64
}

func NewIndex(id IndexID, e *expr.Expression, cm CostModel) *Index {
	idx := &Index{id: id, e: e, est: cardinality.NewEstimatorAll(e)}

	bound := idx.byCardinality(e.Bound())
	free := idx.byCardinality(e.Free())
	idx.layout = append(bound, free...)
	idx.numBound = len(bound)

	cards := idx.est.Cardinalities(idx.layout, intset.Set{})
	idx.counts = make([]float64, len(cards))
	n := 1.0
	for i, c := range cards {
		n = math.Max(1, n*c)
		idx.counts[i] = n
		bytes := n * width(e, idx.layout[i], cm)
		if i < idx.numBound {
			idx.memBytes += bytes
		} else {
			idx.diskBytes += bytes
		}
	}
	idx.storage = cm.MemWeight*idx.memBytes + cm.DiskWeight*idx.diskBytes
	prefixes := 1.0
	if idx.numBound > 0 {
		prefixes = idx.counts[idx.numBound-1]
	}
	idx.avgBlock = idx.diskBytes / prefixes
	return idx
}

func (idx *Index) byCardinality(vars intset.Set) []int {
	out := vars.Ordered()
	card := make(map[int]float64, len(out))
	for _, v := range out {
		card[v] = idx.est.Cardinality(v, intset.Set{})
	}
	sort.SliceStable(out, func(i, j int) bool { return card[out[i]] < card[out[j]] })
	return out
}

// width is the stored size of one value of v: the integer width, or the
// widest string column v occupies.
func width(e *expr.Expression, v int, cm CostModel) float64 {
	if e.VarType(v) == common.Int {
		return cm.IntWidth
	}
	w := 0.0
	e.VarGoals(v).ForEach(func(gid int) {
		g := e.Goal(gid)
		for col, s := range g.Args {
			if !s.IsConst && s.Var == v {
				w = math.Max(w, g.Rel.Column(col).Width)
			}
		}
	})
	return w
}

func (idx *Index) ID() IndexID                       { return idx.id }
func (idx *Index) Expr() *expr.Expression            { return idx.e }
func (idx *Index) Estimator() *cardinality.Estimator { return idx.est }
func (idx *Index) Layout() []int                     { return idx.layout }
func (idx *Index) NumBound() int                     { return idx.numBound }
func (idx *Index) StorageCost() float64              { return idx.storage }
func (idx *Index) MemBytes() float64                 { return idx.memBytes }
func (idx *Index) DiskBytes() float64                { return idx.diskBytes }
func (idx *Index) AvgDiskBlockSize() float64         { return idx.avgBlock }

func (idx *Index) String() string {
	return fmt.Sprintf("I%d %s", idx.id, idx.e.Show())
}
