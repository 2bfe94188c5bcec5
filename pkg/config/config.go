package config

import (
	"os"

	"cqadvisor/pkg/core"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Advisor AdvisorConfig `yaml:"advisor"`
	Cost    CostConfig    `yaml:"cost"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type AdvisorConfig struct {
	MaxNumGoalsIndex int     `yaml:"max_num_goals_index"` // goals in a candidate index body
	MaxIters         int     `yaml:"max_iters"`           // branch-and-bound expansions
	MaxIndexSize     float64 `yaml:"max_index_size"`      // storage cost cap per candidate
	MaxVTLB          float64 `yaml:"max_vt_lb"`           // view tuple lower-bound cap
	WtStorage        float64 `yaml:"wt_storage"`
	PickFn           string  `yaml:"pick_fn"`       // lb, ub or goals
	BranchFactor     int     `yaml:"branch_factor"` // 0 keeps every neighbor
	Parallelism      int     `yaml:"parallelism"`
	NumSamples       int     `yaml:"num_samples"`
	Seed             int64   `yaml:"seed"`
}

type CostConfig struct {
	SeekTime        float64 `yaml:"seek_time"`
	ReadTimePerUnit float64 `yaml:"read_time_per_unit"`
	MemWeight       float64 `yaml:"mem_weight"`
	DiskWeight      float64 `yaml:"disk_weight"`
	IntWidth        float64 `yaml:"int_width"`
}

type StorageConfig struct {
	Path string `yaml:"path"` // SQLite file with base data; empty keeps everything in memory
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

func Default() *Config {
	cm := core.DefaultCostModel()
	return &Config{
		Advisor: AdvisorConfig{
			MaxNumGoalsIndex: 3,
			MaxIters:         1000,
			MaxIndexSize:     1e12,
			MaxVTLB:          1e12,
			WtStorage:        1,
			PickFn:           "lb",
			Parallelism:      1,
			NumSamples:       10,
			Seed:             1,
		},
		Cost: CostConfig{
			SeekTime:        cm.SeekTime,
			ReadTimePerUnit: cm.ReadTimePerUnit,
			MemWeight:       cm.MemWeight,
			DiskWeight:      cm.DiskWeight,
			IntWidth:        cm.IntWidth,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/advisor.yaml", "advisor.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, errors.Wrapf(err, "parse %s", p)
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", configPath)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	a := &cfg.Advisor
	if a.MaxNumGoalsIndex <= 0 {
		a.MaxNumGoalsIndex = def.Advisor.MaxNumGoalsIndex
	}
	if a.MaxIters <= 0 {
		a.MaxIters = def.Advisor.MaxIters
	}
	if a.MaxIndexSize <= 0 {
		a.MaxIndexSize = def.Advisor.MaxIndexSize
	}
	if a.MaxVTLB <= 0 {
		a.MaxVTLB = def.Advisor.MaxVTLB
	}
	if a.WtStorage < 0 {
		a.WtStorage = def.Advisor.WtStorage
	}
	switch a.PickFn {
	case "lb", "ub", "goals":
	default:
		a.PickFn = def.Advisor.PickFn
	}
	if a.BranchFactor < 0 {
		a.BranchFactor = 0
	}
	if a.Parallelism <= 0 {
		a.Parallelism = def.Advisor.Parallelism
	}
	if a.NumSamples < 0 {
		a.NumSamples = 0
	}

	c := &cfg.Cost
	if c.SeekTime <= 0 {
		c.SeekTime = def.Cost.SeekTime
	}
	if c.ReadTimePerUnit < 0 {
		c.ReadTimePerUnit = def.Cost.ReadTimePerUnit
	}
	if c.MemWeight < 0 {
		c.MemWeight = def.Cost.MemWeight
	}
	if c.DiskWeight < 0 {
		c.DiskWeight = def.Cost.DiskWeight
	}
	if c.IntWidth <= 0 {
		c.IntWidth = def.Cost.IntWidth
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format != "json" {
		cfg.Log.Format = "console"
	}
}

// Model converts the cost section into a core.CostModel.
func (c CostConfig) Model() core.CostModel {
	return core.CostModel{
		SeekTime:        c.SeekTime,
		ReadTimePerUnit: c.ReadTimePerUnit,
		MemWeight:       c.MemWeight,
		DiskWeight:      c.DiskWeight,
		IntWidth:        c.IntWidth,
	}
}
