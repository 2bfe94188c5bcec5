package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"cqadvisor/pkg/common"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/advisor.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	// Load with empty path uses default search (may use defaults if no config file)
	cfg, _ := Load("")
	if cfg.Advisor.MaxNumGoalsIndex != 3 {
		t.Errorf("default max_num_goals_index: got %d", cfg.Advisor.MaxNumGoalsIndex)
	}
	if cfg.Advisor.PickFn != "lb" {
		t.Errorf("default pick_fn: got %s", cfg.Advisor.PickFn)
	}
	if cfg.Cost.SeekTime != 10 {
		t.Errorf("default seek_time: got %v", cfg.Cost.SeekTime)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("default log format: got %s", cfg.Log.Format)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
advisor:
  max_num_goals_index: 2
  max_iters: 50
  wt_storage: 0.5
  pick_fn: goals
  branch_factor: 4
  parallelism: 3
  seed: 42
cost:
  seek_time: 5
storage:
  path: "base.db"
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Advisor.MaxNumGoalsIndex != 2 {
		t.Errorf("max_num_goals_index: got %d", cfg.Advisor.MaxNumGoalsIndex)
	}
	if cfg.Advisor.MaxIters != 50 {
		t.Errorf("max_iters: got %d", cfg.Advisor.MaxIters)
	}
	if cfg.Advisor.PickFn != "goals" {
		t.Errorf("pick_fn: got %s", cfg.Advisor.PickFn)
	}
	if cfg.Advisor.Parallelism != 3 || cfg.Advisor.BranchFactor != 4 || cfg.Advisor.Seed != 42 {
		t.Errorf("advisor: got %+v", cfg.Advisor)
	}
	// Unset sections keep their defaults.
	if cfg.Advisor.NumSamples != 10 {
		t.Errorf("num_samples: got %d", cfg.Advisor.NumSamples)
	}
	cm := cfg.Cost.Model()
	if cm.SeekTime != 5 || cm.DiskWeight != 0.01 {
		t.Errorf("cost model: got %+v", cm)
	}
	if cfg.Storage.Path != "base.db" {
		t.Errorf("storage path: got %s", cfg.Storage.Path)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log: got %+v", cfg.Log)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `
advisor:
  pick_fn: random
  parallelism: -2
cost:
  int_width: 0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Advisor.PickFn != "lb" {
		t.Errorf("pick_fn: got %s", cfg.Advisor.PickFn)
	}
	if cfg.Advisor.Parallelism != 1 {
		t.Errorf("parallelism: got %d", cfg.Advisor.Parallelism)
	}
	if cfg.Cost.IntWidth != 4 {
		t.Errorf("int_width: got %v", cfg.Cost.IntWidth)
	}

	if err := os.WriteFile(path, []byte("advisor: [1, 2"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadWorkload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workload.yaml")
	content := `
relations:
  - name: K
    rows: 1000
    columns:
      - {name: k, type: string, cardinality: 100, width: 8}
      - {name: d, type: int, cardinality: 100}
  - name: E
    rows: 800
    columns:
      - {name: e, type: int, cardinality: 80}
      - {name: d, type: int, cardinality: 100}
queries:
  - expr: "Qkd[k1, k2](d) :- K(k1, d); K(k2, d)"
    weight: 3
  - expr: "Qe[](e) :- E(e, int_3)"
    weight: 1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write workload: %v", err)
	}
	w, err := LoadWorkload(path)
	if err != nil {
		t.Fatalf("LoadWorkload: %v", err)
	}
	if len(w.Queries) != 2 {
		t.Fatalf("queries: got %d", len(w.Queries))
	}
	if math.Abs(*w.Queries[0].Weight-0.75) > 1e-12 || math.Abs(*w.Queries[1].Weight-0.25) > 1e-12 {
		t.Errorf("weights not normalized: %v, %v", *w.Queries[0].Weight, *w.Queries[1].Weight)
	}

	ids := common.NewIDAllocator()
	cat, err := w.Catalog(ids)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	k, ok := cat.Lookup("K")
	if !ok {
		t.Fatal("relation K missing")
	}
	if k.Type(0) != common.String || k.Column(0).Width != 8 || k.Rows() != 1000 {
		t.Errorf("relation K: got %+v rows=%v", k.Columns(), k.Rows())
	}
	if e, _ := cat.Lookup("E"); e.Column(0).Width != 4 {
		t.Errorf("default int width: got %v", e.Column(0).Width)
	}
}

func TestLoadWorkloadZeroAndMissingWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	content := `
queries:
  - expr: "Qa[](d) :- K(k, d)"
    weight: 0
  - expr: "Qb[](d) :- K(k, d)"
  - expr: "Qc[](d) :- K(k, d)"
    weight: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write workload: %v", err)
	}
	w, err := LoadWorkload(path)
	if err != nil {
		t.Fatalf("LoadWorkload: %v", err)
	}
	want := []float64{0, 0.25, 0.75}
	for i, q := range w.Queries {
		if q.Weight == nil || math.Abs(*q.Weight-want[i]) > 1e-12 {
			t.Errorf("query %d: got weight %v, want %v", i, q.Weight, want[i])
		}
	}
}

func TestLoadWorkloadErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty":    "relations: []\n",
		"negative": "queries:\n  - {expr: \"Q[](x) :- K(x)\", weight: -1}\n",
		"all-zero": "queries:\n  - {expr: \"Q[](x) :- K(x)\", weight: 0}\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write workload: %v", err)
		}
		if _, err := LoadWorkload(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	w := &Workload{Relations: []RelationSpec{{
		Name:    "K",
		Columns: []ColumnSpec{{Name: "k", Type: "blob"}},
	}}}
	if _, err := w.Catalog(common.NewIDAllocator()); err == nil {
		t.Error("expected unknown type error")
	}
}
