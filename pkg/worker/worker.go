package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
)

var (
	// ErrInsufficientMemory is returned when a host cannot fit a job
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrUnknownHost is returned for hosts that are not part of the pool
	ErrUnknownHost = errors.New("unknown host")
)

// Pool is the scheduler's view of the hosts it may run jobs on
type Pool interface {
	// ListWorkers returns the current memory state of every host
	ListWorkers(ctx context.Context) ([]types.Worker, error)

	// Dispatch starts a job on a host. The job reports on the request's
	// channels; the returned handle can stop it early.
	Dispatch(ctx context.Context, req DispatchRequest) (JobHandle, error)

	// Sync makes the job payloads available on a host
	Sync(ctx context.Context, host string) error
}

// DispatchRequest describes one job
type DispatchRequest struct {
	OpID    int64
	Kind    types.OperationKind
	Threads int
	Host    string
	Target  string

	// PlannedEnd is the absolute time the job should finish. The job delays
	// itself so that a run of Duration ends at PlannedEnd.
	PlannedEnd time.Time
	Duration   time.Duration

	// Skip runs the job for its timing only, without applying its effect
	Skip bool

	Channels *protocol.Channels
}

// JobHandle identifies a running job
type JobHandle struct {
	ID     uuid.UUID
	Host   string
	Cancel context.CancelFunc
}

// Effector applies job effects to their targets
type Effector interface {
	// Duration returns how long an operation takes right now
	Duration(target string, kind types.OperationKind) time.Duration

	// Apply applies the effect of a completed operation
	Apply(target string, kind types.OperationKind, threads, cores int)
}

// Host describes one host of a LocalPool
type Host struct {
	Name      string
	MaxMemory float64
	Cores     int
	Primary   bool
}

type hostState struct {
	Host
	used   float64
	synced bool
	jobs   int
}

// LocalPool runs jobs as goroutines against an Effector
type LocalPool struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	names []string

	effector Effector
	costs    types.Costs
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalPool creates a pool over the given hosts
func NewLocalPool(hosts []Host, costs types.Costs, effector Effector) *LocalPool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &LocalPool{
		hosts:    make(map[string]*hostState, len(hosts)),
		effector: effector,
		costs:    costs,
		logger:   log.WithComponent("worker"),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, h := range hosts {
		if h.Cores < 1 {
			h.Cores = 1
		}
		if _, exists := p.hosts[h.Name]; !exists {
			p.names = append(p.names, h.Name)
		}
		p.hosts[h.Name] = &hostState{Host: h}
	}
	sort.Strings(p.names)

	return p
}

// ListWorkers implements Pool
func (p *LocalPool) ListWorkers(ctx context.Context) ([]types.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	workers := make([]types.Worker, 0, len(p.names))
	for _, name := range p.names {
		h := p.hosts[name]
		workers = append(workers, types.Worker{
			Host:       h.Name,
			FreeMemory: h.MaxMemory - h.used,
			MaxMemory:  h.MaxMemory,
			Cores:      h.Cores,
			Primary:    h.Primary,
		})
	}
	return workers, nil
}

// Sync implements Pool
func (p *LocalPool) Sync(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.hosts[host]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}
	if !h.synced {
		h.synced = true
		p.logger.Debug().Str("host", host).Msg("Payloads synced")
	}
	return nil
}

// Synced reports whether Sync has been called for a host
func (p *LocalPool) Synced(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.hosts[host]
	return ok && h.synced
}

// Dispatch implements Pool
func (p *LocalPool) Dispatch(ctx context.Context, req DispatchRequest) (JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return JobHandle{}, err
	}
	if req.Channels == nil {
		return JobHandle{}, fmt.Errorf("dispatch %d: no channels", req.OpID)
	}

	memory := p.costs.Of(req.Kind) * float64(req.Threads)

	p.mu.Lock()
	h, ok := p.hosts[req.Host]
	if !ok {
		p.mu.Unlock()
		return JobHandle{}, fmt.Errorf("%w: %s", ErrUnknownHost, req.Host)
	}
	if h.MaxMemory-h.used < memory {
		free := h.MaxMemory - h.used
		p.mu.Unlock()
		return JobHandle{}, fmt.Errorf("%w: %s has %.2f free, job needs %.2f", ErrInsufficientMemory, req.Host, free, memory)
	}
	h.used += memory
	h.jobs++
	cores := h.Cores
	p.mu.Unlock()

	jobCtx, cancel := context.WithCancel(p.ctx)
	handle := JobHandle{ID: uuid.New(), Host: req.Host, Cancel: cancel}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer p.release(req.Host, memory)
		p.run(jobCtx, handle.ID, req, cores)
	}()

	return handle, nil
}

func (p *LocalPool) run(ctx context.Context, id uuid.UUID, req DispatchRequest, cores int) {
	logger := p.logger.With().
		Int64("op_id", req.OpID).
		Str("job_id", id.String()).
		Str("kind", req.Kind.String()).
		Str("host", req.Host).
		Logger()

	start := time.Now()
	delay := req.PlannedEnd.Sub(start) - req.Duration
	if delay < 0 {
		delay = 0
	}

	if !p.send(ctx, req.Channels.Start, protocol.Started{ID: req.OpID, StartedAt: start, AppliedDelay: delay}) {
		return
	}

	if !sleep(ctx, delay) {
		logger.Debug().Msg("Job cancelled before starting its operation")
		return
	}

	// the operation's run time depends on the target's state when it begins
	if !sleep(ctx, p.effector.Duration(req.Target, req.Kind)) {
		logger.Debug().Msg("Job cancelled before finishing")
		return
	}

	if !req.Skip {
		p.effector.Apply(req.Target, req.Kind, req.Threads, cores)
	}

	if !p.send(ctx, req.Channels.Finish, protocol.Finished{ID: req.OpID, FinishedAt: time.Now()}) {
		return
	}

	// hold memory until the scheduler has accounted for the finish
	select {
	case <-req.Channels.Barrier:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *LocalPool) send(ctx context.Context, ch chan []byte, msg protocol.Message) bool {
	data, err := protocol.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to encode job notification")
		return false
	}

	select {
	case ch <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *LocalPool) release(host string, memory float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.hosts[host]; ok {
		h.used -= memory
		if h.used < 0 {
			h.used = 0
		}
		h.jobs--
	}
}

// Running returns the number of jobs still holding memory
func (p *LocalPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, h := range p.hosts {
		total += h.jobs
	}
	return total
}

// Close stops every running job and waits for them to exit
func (p *LocalPool) Close() {
	p.cancel()
	p.wg.Wait()
}

// subset restricts a pool to some of its hosts
type subset struct {
	pool  Pool
	hosts map[string]bool
}

// Subset returns a view of pool limited to hosts
func Subset(pool Pool, hosts []string) Pool {
	s := &subset{pool: pool, hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		s.hosts[h] = true
	}
	return s
}

func (s *subset) ListWorkers(ctx context.Context) ([]types.Worker, error) {
	all, err := s.pool.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	workers := make([]types.Worker, 0, len(s.hosts))
	for _, w := range all {
		if s.hosts[w.Host] {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

func (s *subset) Dispatch(ctx context.Context, req DispatchRequest) (JobHandle, error) {
	if !s.hosts[req.Host] {
		return JobHandle{}, fmt.Errorf("%w: %s", ErrUnknownHost, req.Host)
	}
	return s.pool.Dispatch(ctx, req)
}

func (s *subset) Sync(ctx context.Context, host string) error {
	if !s.hosts[host] {
		return fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}
	return s.pool.Sync(ctx, host)
}
