package common

import (
	"fmt"
	"strconv"
	"sync"
)

// Dtype is the column/symbol type. Only integers and strings exist.
type Dtype uint8

const (
	Int Dtype = iota
	String
)

func (t Dtype) String() string {
	switch t {
	case Int:
		return "int"
	case String:
		return "string"
	default:
		return fmt.Sprintf("Dtype(%d)", uint8(t))
	}
}

// ParseDtype accepts the names used in workload files and SQLite declared types.
func ParseDtype(s string) (Dtype, bool) {
	switch s {
	case "int", "integer", "INT", "INTEGER", "bigint", "BIGINT":
		return Int, true
	case "string", "text", "TEXT", "varchar", "VARCHAR":
		return String, true
	}
	return 0, false
}

// Datum is a typed constant.
type Datum struct {
	Type Dtype
	I    int64
	S    string
}

func NewInt(v int64) Datum { return Datum{Type: Int, I: v} }

func NewString(v string) Datum { return Datum{Type: String, S: v} }

// Value returns the driver value for database/sql.
func (d Datum) Value() any {
	if d.Type == Int {
		return d.I
	}
	return d.S
}

// String renders the datum in the query mini-language (int_3, str_x).
func (d Datum) String() string {
	if d.Type == Int {
		return "int_" + strconv.FormatInt(d.I, 10)
	}
	return "str_" + d.S
}

// IDAllocator hands out process-unique ids for one workload construction.
// It replaces per-type static counters; pass the same allocator to every
// constructor that needs fresh ids.
type IDAllocator struct {
	mu   sync.Mutex
	next int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

func (a *IDAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}
