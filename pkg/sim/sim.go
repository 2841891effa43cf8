package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/types"
)

const (
	hackSecurityPerThread = 0.002
	growSecurityPerThread = 0.004
	weakenPerThread       = 0.05

	maxGrowthRate  = 1.0035
	baseGrowthRate = 1.03

	maxSecurity = 100
)

var (
	// ErrUnknownTarget is returned for targets the world does not hold
	ErrUnknownTarget = errors.New("unknown target")
)

// Server is the simulated state of one target
type Server struct {
	Name          string
	MaxMoney      float64
	Money         float64
	MinSecurity   float64
	Security      float64
	Growth        float64 // growth parameter, percent
	RequiredSkill int
}

// World holds every simulated target and the operator's skill. It is safe for
// concurrent use.
type World struct {
	mu sync.RWMutex

	servers map[string]*Server

	skill          int
	experience     float64
	skillPerThread float64

	// formulas reports whether precise models are available
	formulas bool

	// timeScale multiplies every operation duration
	timeScale float64
}

// Options configures a new World
type Options struct {
	Skill          int
	SkillPerThread float64
	Formulas       bool
	TimeScale      float64
}

// NewWorld creates an empty world
func NewWorld(opts Options) *World {
	if opts.Skill < 1 {
		opts.Skill = 1
	}
	if opts.TimeScale <= 0 {
		opts.TimeScale = 1
	}
	return &World{
		servers:        make(map[string]*Server),
		skill:          opts.Skill,
		skillPerThread: opts.SkillPerThread,
		formulas:       opts.Formulas,
		timeScale:      opts.TimeScale,
	}
}

// AddServer adds or replaces a target
func (w *World) AddServer(s Server) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s.Security < s.MinSecurity {
		s.Security = s.MinSecurity
	}
	copied := s
	w.servers[s.Name] = &copied
}

// Server returns a copy of a target's state
func (w *World) Server(name string) (Server, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.servers[name]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return *s, nil
}

// Targets returns the target names in sorted order
func (w *World) Targets() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.servers))
	for name := range w.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Skill returns the operator's current skill level
func (w *World) Skill() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skill
}

// SetSkill overrides the skill level
func (w *World) SetSkill(skill int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.skill = skill
}

// Security returns a target's current and minimum security
func (w *World) Security(target string) (current, minimum float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.servers[target]
	if !ok {
		return 0, 0
	}
	return s.Security, s.MinSecurity
}

// Money returns a target's available and maximum money
func (w *World) Money(target string) (available, maximum float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.servers[target]
	if !ok {
		return 0, 0
	}
	return s.Money, s.MaxMoney
}

// Model returns the prepped-state model of a target
func (w *World) Model(target string) analysis.Model {
	return &model{world: w, target: target}
}

// Duration returns how long an operation takes against a target right now
func (w *World) Duration(target string, kind types.OperationKind) time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.servers[target]
	if !ok {
		return 0
	}
	return w.durations(s, s.Security).Of(kind)
}

// Apply applies the effect of a finished operation
func (w *World) Apply(target string, kind types.OperationKind, threads, cores int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.servers[target]
	if !ok || threads <= 0 {
		return
	}

	switch kind {
	case types.OperationHack:
		percent := math.Min(1, hackPercent(s, s.Security, w.skill)*float64(threads))
		s.Money -= s.Money * percent * hackChance(s, s.Security, w.skill)
		s.Money = math.Max(0, s.Money)
		s.Security = math.Min(maxSecurity, s.Security+hackSecurityPerThread*float64(threads))
		w.gainExperience(threads)
	case types.OperationGrow:
		s.Money = math.Min(s.MaxMoney, grow(s, s.Money, s.Security, threads, cores))
		s.Security = math.Min(maxSecurity, s.Security+growSecurityPerThread*float64(threads))
	case types.OperationWeaken:
		s.Security = math.Max(s.MinSecurity, s.Security-weakenEffect(threads, cores))
	}
}

func (w *World) gainExperience(threads int) {
	if w.skillPerThread <= 0 {
		return
	}
	w.experience += w.skillPerThread * float64(threads)
	if gained := int(w.experience); gained > 0 {
		w.skill += gained
		w.experience -= float64(gained)
	}
}

func (w *World) durations(s *Server, security float64) types.Durations {
	hack := hackTime(s, security, w.skill) * w.timeScale
	return types.Durations{
		Hack:   seconds(hack),
		Grow:   seconds(hack * 3.2),
		Weaken: seconds(hack * 4),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func coreBonus(cores int) float64 {
	if cores < 1 {
		cores = 1
	}
	return 1 + float64(cores-1)/16
}

func hackPercent(s *Server, security float64, skill int) float64 {
	difficulty := (maxSecurity - security) / 100
	skillMult := float64(skill-(s.RequiredSkill-1)) / float64(skill)
	percent := difficulty * skillMult / 240
	return math.Max(0, math.Min(1, percent))
}

func hackChance(s *Server, security float64, skill int) float64 {
	skillMult := 1.75 * float64(skill)
	skillChance := (skillMult - float64(s.RequiredSkill)) / skillMult
	chance := skillChance * (maxSecurity - security) / 100
	return math.Max(0, math.Min(1, chance))
}

// hackTime returns the hack duration in seconds
func hackTime(s *Server, security float64, skill int) float64 {
	difficulty := float64(s.RequiredSkill) * security
	skillFactor := (2.5*difficulty + 500) / float64(skill+50)
	return 5 * skillFactor
}

func growthRate(security float64) float64 {
	if security <= 0 {
		return maxGrowthRate
	}
	return math.Min(maxGrowthRate, 1+(baseGrowthRate-1)/security)
}

func grow(s *Server, money, security float64, threads, cores int) float64 {
	exponent := s.Growth / 100 * float64(threads) * coreBonus(cores)
	return (money + float64(threads)) * math.Pow(growthRate(security), exponent)
}

func weakenEffect(threads, cores int) float64 {
	return weakenPerThread * float64(threads) * coreBonus(cores)
}

// growThreads returns the smallest thread count taking money from `from` to
// at least `to`
func growThreads(s *Server, from, to, security float64, cores int) int {
	if to <= 0 || from >= to {
		return 0
	}
	if s.Growth <= 0 {
		return math.MaxInt32
	}

	high := 1
	for grow(s, from, security, high, cores) < to {
		high *= 2
		if high >= math.MaxInt32/2 {
			return math.MaxInt32
		}
	}

	low := high / 2
	for low+1 < high {
		mid := low + (high-low)/2
		if grow(s, from, security, mid, cores) >= to {
			high = mid
		} else {
			low = mid
		}
	}
	return high
}

// model evaluates a target as if it were prepped
type model struct {
	world  *World
	target string
}

func (m *model) server() (Server, int, bool) {
	m.world.mu.RLock()
	defer m.world.mu.RUnlock()

	s, ok := m.world.servers[m.target]
	if !ok {
		return Server{}, 1, false
	}
	return *s, m.world.skill, true
}

func (m *model) Target() string { return m.target }

func (m *model) Precise() bool {
	m.world.mu.RLock()
	defer m.world.mu.RUnlock()
	return m.world.formulas
}

func (m *model) MaxMoney() float64 {
	s, _, _ := m.server()
	return s.MaxMoney
}

func (m *model) HackPercent() float64 {
	s, skill, ok := m.server()
	if !ok {
		return 0
	}
	return hackPercent(&s, s.MinSecurity, skill)
}

func (m *model) HackChance() float64 {
	s, skill, ok := m.server()
	if !ok {
		return 0
	}
	return hackChance(&s, s.MinSecurity, skill)
}

func (m *model) HackSecurity(threads int) float64 {
	return hackSecurityPerThread * float64(threads)
}

func (m *model) GrowThreads(from, to, extraSecurity float64, cores int) int {
	s, _, ok := m.server()
	if !ok {
		return 0
	}
	return growThreads(&s, from, to, s.MinSecurity+extraSecurity, cores)
}

func (m *model) GrowSecurity(threads, cores int) float64 {
	return growSecurityPerThread * float64(threads)
}

func (m *model) WeakenEffect(threads, cores int) float64 {
	return weakenEffect(threads, cores)
}

func (m *model) Durations() types.Durations {
	s, _, ok := m.server()
	if !ok {
		return types.Durations{}
	}

	m.world.mu.RLock()
	defer m.world.mu.RUnlock()
	return m.world.durations(&s, s.MinSecurity)
}
