package optimizer

import (
	"github.com/google/btree"
)

type designHandle int

// frontierItem orders the frontier by priority, then tiebreak, then
// insertion order.
type frontierItem struct {
	prio   float64
	tie    float64
	seq    uint64
	handle designHandle
}

func (i frontierItem) Less(than btree.Item) bool {
	o := than.(frontierItem)
	if i.prio != o.prio {
		return i.prio < o.prio
	}
	if i.tie != o.tie {
		return i.tie < o.tie
	}
	return i.seq < o.seq
}

// frontier is an arena of designs plus an ordered set of handles into it.
// Popping a design tombstones its slot.
type frontier struct {
	tree    *btree.BTree
	designs []*Design
	seq     uint64
	live    int
}

func newFrontier(degree int) *frontier {
	return &frontier{tree: btree.New(degree)}
}

func (f *frontier) push(d *Design, prio, tie float64) {
	h := designHandle(len(f.designs))
	f.designs = append(f.designs, d)
	f.seq++
	f.tree.ReplaceOrInsert(frontierItem{prio: prio, tie: tie, seq: f.seq, handle: h})
	f.live++
}

// pop removes the design with the smallest key.
func (f *frontier) pop() (*Design, bool) {
	for f.tree.Len() > 0 {
		it := f.tree.DeleteMin().(frontierItem)
		d := f.designs[it.handle]
		f.designs[it.handle] = nil
		if d != nil {
			f.live--
			return d, true
		}
	}
	return nil, false
}

// discard tombstones every queued design whose lower bound reaches lub. The
// tree entries stay until popped.
func (f *frontier) discard(lub float64) int {
	n := 0
	for h, d := range f.designs {
		if d != nil && d.lb >= lub {
			f.designs[h] = nil
			f.live--
			n++
		}
	}
	return n
}

func (f *frontier) len() int { return f.live }
