package optimizer

import (
	"fmt"
	"strings"

	"cqadvisor/pkg/common"

	"github.com/xlab/treeprint"
)

// ShowCandidates renders every query with its candidate indexes and view
// tuples. The format is for people, not machines.
func (a *Application) ShowCandidates() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("Candidates: %d indexes, %d view tuples",
		len(a.candidates), a.numViewTuples()))
	for _, q := range a.queries {
		qb := tree.AddMetaBranch(fmt.Sprintf("Q%d", q.ID()), fmt.Sprintf("%s (w=%.3g)", q.Expr().Show(), q.Weight()))
		if rows := q.Samples(); len(rows) > 0 {
			qb.AddMetaNode("samples", sampleString(rows))
		}
		for _, id := range a.candidates {
			vts := a.ViewTuples(q.ID(), id)
			if len(vts) == 0 {
				continue
			}
			idx := a.indexes[id]
			tag := fmt.Sprintf("I%d", id)
			if a.essential[id] {
				tag += "*"
			}
			ib := qb.AddMetaBranch(tag, fmt.Sprintf("%s storage=%.4g", idx.Expr().Show(), idx.StorageCost()))
			for _, vt := range vts {
				ib.AddMetaNode(fmt.Sprintf("V%d", vt.ID()), fmt.Sprintf("{%s} %s lb=%.4g ub=%.4g",
					vt.Assignment(), vt.SubcoreString(), vt.CostLB(), vt.CostUB()))
			}
		}
	}
	return tree.String()
}

// sampleString renders bound-input rows as "(str_a, int_1) (str_b, int_2)".
func sampleString(rows [][]common.Datum) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		vals := make([]string, len(row))
		for j, d := range row {
			vals[j] = d.String()
		}
		parts[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	return strings.Join(parts, " ")
}
