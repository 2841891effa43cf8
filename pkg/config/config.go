package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/scheduler"
	"github.com/cuemby/cadence/pkg/sim"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

var (
	// ErrInvalid is returned when a configuration fails validation
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the cadence configuration file
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Costs       CostsConfig       `yaml:"costs"`
	Player      PlayerConfig      `yaml:"player"`
	Workers     []WorkerConfig    `yaml:"workers"`
	Targets     []TargetConfig    `yaml:"targets"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the Prometheus and health endpoints. An empty
// address disables them.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures the snapshot history. An empty directory
// disables it.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SchedulerConfig holds the scheduler tunables
type SchedulerConfig struct {
	StepBuffer       time.Duration `yaml:"step_buffer"`
	Spacer           time.Duration `yaml:"spacer"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ReportInterval   time.Duration `yaml:"report_interval"`
	Jitter           time.Duration `yaml:"jitter"`
	SpawnAhead       time.Duration `yaml:"spawn_ahead"`
	StartTimeout     time.Duration `yaml:"start_timeout"`
	RetentionStrides int           `yaml:"retention_strides"`
	MaxShifts        int           `yaml:"max_shifts"`
	StabilizeEvery   int           `yaml:"stabilize_every"`
	StabilizeBatches int           `yaml:"stabilize_batches"`
	SecurityEpsilon  float64       `yaml:"security_epsilon"`
	MoneyThreshold   float64       `yaml:"money_threshold"`
	MoneyFloor       float64       `yaml:"money_floor"`
	PaddingThreshold float64       `yaml:"padding_threshold"`
	MinHacks         int           `yaml:"min_hacks"`
	MaxHacks         int           `yaml:"max_hacks"`
	Shape            string        `yaml:"shape"` // "", "hwgw" or "hgw"
}

// CoordinatorConfig configures multi-target runs
type CoordinatorConfig struct {
	// MaxPrepTime skips unprepped targets whose weaken takes longer
	MaxPrepTime time.Duration `yaml:"max_prep_time"`
}

// CostsConfig is the memory per thread of each job payload
type CostsConfig struct {
	Grow   float64 `yaml:"grow"`
	Weaken float64 `yaml:"weaken"`
	Hack   float64 `yaml:"hack"`
}

// PlayerConfig configures the simulated operator
type PlayerConfig struct {
	Skill          int     `yaml:"skill"`
	SkillPerThread float64 `yaml:"skill_per_thread"`
	Formulas       bool    `yaml:"formulas"`
	TimeScale      float64 `yaml:"time_scale"`
}

// WorkerConfig describes one host
type WorkerConfig struct {
	Name    string `yaml:"name"`
	Memory  Memory `yaml:"memory"`
	Cores   int    `yaml:"cores"`
	Primary bool   `yaml:"primary"`
}

// TargetConfig describes one simulated target and its initial budget
type TargetConfig struct {
	Name          string  `yaml:"name"`
	MaxMoney      float64 `yaml:"max_money"`
	Money         float64 `yaml:"money"`
	MinSecurity   float64 `yaml:"min_security"`
	Security      float64 `yaml:"security"`
	Growth        float64 `yaml:"growth"`
	RequiredSkill int     `yaml:"required_skill"`
	MinHacks      int     `yaml:"min_hacks"`

	// Budget is the share of memory the target may use. Zero disables the
	// target; omitted means 1.
	Budget *float64 `yaml:"budget"`
}

// InitialBudget returns the configured budget, or 1 when none is set
func (t TargetConfig) InitialBudget() float64 {
	if t.Budget == nil {
		return 1
	}
	return *t.Budget
}

// Memory is a host capacity: a fixed amount, or "auto" for the memory
// available on this machine
type Memory struct {
	Auto  bool
	Value float64
}

// UnmarshalYAML implements yaml.Unmarshaler
func (m *Memory) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: memory must be a number or \"auto\"", node.Line)
	}
	if strings.EqualFold(node.Value, "auto") {
		*m = Memory{Auto: true}
		return nil
	}
	v, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: memory must be a number or \"auto\": %w", node.Line, err)
	}
	*m = Memory{Value: v}
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (m Memory) MarshalYAML() (any, error) {
	if m.Auto {
		return "auto", nil
	}
	return m.Value, nil
}

// Default returns a configuration for a small local simulation
func Default() *Config {
	d := scheduler.DefaultConfig()
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9090"},
		Scheduler: SchedulerConfig{
			StepBuffer:       d.StepBuffer,
			Spacer:           d.Spacer,
			TickInterval:     d.TickInterval,
			ReportInterval:   d.ReportInterval,
			Jitter:           d.Jitter,
			SpawnAhead:       d.SpawnAhead,
			StartTimeout:     d.StartTimeout,
			RetentionStrides: d.RetentionStrides,
			MaxShifts:        d.MaxShifts,
			StabilizeEvery:   d.StabilizeEvery,
			StabilizeBatches: d.StabilizeBatches,
			SecurityEpsilon:  d.SecurityEpsilon,
			MoneyThreshold:   d.MoneyThreshold,
			MoneyFloor:       d.MoneyFloor,
			PaddingThreshold: d.PaddingThreshold,
			MinHacks:         d.MinHacks,
			MaxHacks:         d.MaxHacks,
		},
		Coordinator: CoordinatorConfig{MaxPrepTime: 5 * time.Minute},
		Costs: CostsConfig{
			Grow:   analysis.DefaultCosts.Grow,
			Weaken: analysis.DefaultCosts.Weaken,
			Hack:   analysis.DefaultCosts.Hack,
		},
		Player: PlayerConfig{Skill: 100, Formulas: true, TimeScale: 1},
		Workers: []WorkerConfig{
			{Name: "home", Memory: Memory{Value: 64}, Cores: 1, Primary: true},
		},
	}
}

// Load reads a configuration file on top of the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the scheduler cannot run with
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !log.Level(c.Logging.Level).Valid() {
		add("unknown log level %q", c.Logging.Level)
	}

	if _, err := parseShape(c.Scheduler.Shape); err != nil {
		add("%v", err)
	}
	if c.Scheduler.MaxHacks > 0 && c.Scheduler.MaxHacks < c.Scheduler.MinHacks {
		add("scheduler.max_hacks %d is below min_hacks %d", c.Scheduler.MaxHacks, c.Scheduler.MinHacks)
	}
	if c.Scheduler.MoneyThreshold < 0 || c.Scheduler.MoneyThreshold > 1 {
		add("scheduler.money_threshold must be within [0, 1]")
	}
	if c.Costs.Grow <= 0 || c.Costs.Weaken <= 0 || c.Costs.Hack <= 0 {
		add("costs must be positive")
	}

	if len(c.Workers) == 0 {
		add("at least one worker is required")
	}
	primaries := 0
	names := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		switch {
		case w.Name == "":
			add("workers[%d]: name is required", i)
		case names[w.Name]:
			add("workers[%d]: duplicate name %q", i, w.Name)
		}
		names[w.Name] = true
		if !w.Memory.Auto && w.Memory.Value <= 0 {
			add("workers[%d]: memory must be positive or \"auto\"", i)
		}
		if w.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		add("only one worker may be primary")
	}

	targets := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		switch {
		case t.Name == "":
			add("targets[%d]: name is required", i)
		case targets[t.Name]:
			add("targets[%d]: duplicate name %q", i, t.Name)
		}
		targets[t.Name] = true
		if t.MaxMoney <= 0 {
			add("targets[%d]: max_money must be positive", i)
		}
		if t.InitialBudget() < 0 {
			add("targets[%d]: budget must not be negative", i)
		}
	}

	return errors.Join(errs...)
}

// Target returns the configuration of a named target
func (c *Config) Target(name string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// LogConfig returns the logger settings
func (c *Config) LogConfig() log.Config {
	level := log.Level(c.Logging.Level)
	if level == "" {
		level = log.InfoLevel
	}
	return log.Config{Level: level, JSONOutput: c.Logging.JSON}
}

// SchedulerConfig returns the scheduler settings. Zero values fall back to
// the scheduler defaults.
func (c *Config) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	shape, _ := parseShape(s.Shape)
	return scheduler.Config{
		StepBuffer:       s.StepBuffer,
		Spacer:           s.Spacer,
		TickInterval:     s.TickInterval,
		ReportInterval:   s.ReportInterval,
		Jitter:           s.Jitter,
		SpawnAhead:       s.SpawnAhead,
		StartTimeout:     s.StartTimeout,
		RetentionStrides: s.RetentionStrides,
		MaxShifts:        s.MaxShifts,
		ShiftEpsilon:     scheduler.DefaultConfig().ShiftEpsilon,
		StabilizeEvery:   s.StabilizeEvery,
		StabilizeBatches: s.StabilizeBatches,
		SecurityEpsilon:  s.SecurityEpsilon,
		MoneyThreshold:   s.MoneyThreshold,
		MoneyFloor:       s.MoneyFloor,
		PaddingThreshold: s.PaddingThreshold,
		MinHacks:         s.MinHacks,
		MaxHacks:         s.MaxHacks,
		Shape:            shape,
		Costs:            c.costs(),
	}
}

func (c *Config) costs() types.Costs {
	return types.Costs{Grow: c.Costs.Grow, Weaken: c.Costs.Weaken, Hack: c.Costs.Hack}
}

// World builds the simulated world holding every configured target
func (c *Config) World() *sim.World {
	world := sim.NewWorld(sim.Options{
		Skill:          c.Player.Skill,
		SkillPerThread: c.Player.SkillPerThread,
		Formulas:       c.Player.Formulas,
		TimeScale:      c.Player.TimeScale,
	})
	for _, t := range c.Targets {
		world.AddServer(sim.Server{
			Name:          t.Name,
			MaxMoney:      t.MaxMoney,
			Money:         t.Money,
			MinSecurity:   t.MinSecurity,
			Security:      t.Security,
			Growth:        t.Growth,
			RequiredSkill: t.RequiredSkill,
		})
	}
	return world
}

// Hosts resolves the worker list, probing this machine for "auto" memory
func (c *Config) Hosts(ctx context.Context) ([]worker.Host, error) {
	hosts := make([]worker.Host, 0, len(c.Workers))
	for _, w := range c.Workers {
		memory := w.Memory.Value
		if w.Memory.Auto {
			probed, err := worker.HostMemory(ctx)
			if err != nil {
				return nil, fmt.Errorf("worker %s: %w", w.Name, err)
			}
			memory = probed
		}
		hosts = append(hosts, worker.Host{
			Name:      w.Name,
			MaxMemory: memory,
			Cores:     w.Cores,
			Primary:   w.Primary,
		})
	}
	return hosts, nil
}

// Pool builds a local pool over the configured workers running jobs against
// effector
func (c *Config) Pool(ctx context.Context, effector worker.Effector) (*worker.LocalPool, error) {
	hosts, err := c.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	return worker.NewLocalPool(hosts, c.costs(), effector), nil
}

func parseShape(s string) (analysis.Shape, error) {
	switch strings.ToLower(s) {
	case "":
		return analysis.ShapeInvalid, nil
	case "hwgw":
		return analysis.ShapeHWGW, nil
	case "hgw":
		return analysis.ShapeHGW, nil
	default:
		return analysis.ShapeInvalid, fmt.Errorf("unknown shape %q", s)
	}
}
