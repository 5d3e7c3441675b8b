// Package pool manages the set of live Worker instances: spawning, scaling,
// acquiring/releasing for dispatch, and reaping unhealthy instances.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/worker"
)

var (
	ErrCapacityExceeded = fmt.Errorf("pool capacity exceeded")
	ErrWorkerNotFound   = fmt.Errorf("worker not found")
	ErrNoneAvailable    = fmt.Errorf("no idle worker available")
)

// Options configures a Pool.
type Options struct {
	MaxInstances      int
	WorkerConfig      worker.Config
	HealthSweepPeriod time.Duration
	UnhealthyAfter    time.Duration
}

// entry tracks a managed Worker plus its acquisition bookkeeping.
type entry struct {
	w          *worker.Worker
	acquiredAt time.Time
	lastUsed   time.Time
	// draining marks a busy worker for termination the next time it is
	// released, instead of going back up for reuse. Set by ScaleTo when
	// scaling down finds more excess than there are idle workers to take.
	draining bool
}

// Pool owns the lifecycle of all Worker instances.
type Pool struct {
	opts Options

	mu      sync.Mutex
	workers map[string]*entry
	order   []string // insertion order; Acquire breaks LRU ties by comparing IDs

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an empty Pool; call Spawn to populate it.
func New(opts Options) *Pool {
	if opts.HealthSweepPeriod <= 0 {
		opts.HealthSweepPeriod = 10 * time.Second
	}
	if opts.UnhealthyAfter <= 0 {
		opts.UnhealthyAfter = 30 * time.Second
	}
	return &Pool{
		opts:    opts,
		workers: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
}

// Spawn starts n new Worker instances, refusing to exceed MaxInstances.
func (p *Pool) Spawn(ctx context.Context, n int) ([]*worker.Worker, error) {
	p.mu.Lock()
	if p.opts.MaxInstances > 0 && len(p.workers)+n > p.opts.MaxInstances {
		p.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	p.mu.Unlock()

	spawned := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		w := worker.New(p.opts.WorkerConfig)
		if err := w.Start(ctx); err != nil {
			return spawned, fmt.Errorf("pool spawn: %w", err)
		}

		p.mu.Lock()
		p.workers[w.ID] = &entry{w: w, lastUsed: time.Now().UTC()}
		p.order = append(p.order, w.ID)
		p.mu.Unlock()

		metrics.SetPoolSize(float64(p.Size()))
		spawned = append(spawned, w)
	}
	return spawned, nil
}

// Terminate stops and removes a worker. A task in flight on it is the
// caller's responsibility to fail with "worker-terminated" — Terminate does
// not retry it.
func (p *Pool) Terminate(workerID string, grace time.Duration) error {
	p.mu.Lock()
	e, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return ErrWorkerNotFound
	}
	delete(p.workers, workerID)
	p.removeFromOrder(workerID)
	p.mu.Unlock()

	err := e.w.Stop(grace)
	metrics.SetPoolSize(float64(p.Size()))
	return err
}

func (p *Pool) removeFromOrder(id string) {
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// ScaleTo is idempotent: spawns more instances to reach target (capped at
// MaxInstances; a shortfall is logged, not returned), or drains
// instances down to target, preferring idle ones. Once idle workers run
// out, the remaining excess busy workers are marked draining: their
// in-flight task is left to finish, but the worker is terminated instead
// of released back to the pool when it does.
func (p *Pool) ScaleTo(ctx context.Context, target int) error {
	current := p.Size()
	if target == current {
		return nil
	}

	if target > current {
		n := target - current
		if p.opts.MaxInstances > 0 && target > p.opts.MaxInstances {
			n = p.opts.MaxInstances - current
		}
		var err error
		if n > 0 {
			_, err = p.Spawn(ctx, n)
		}
		if err != nil || p.Size() < target {
			logger.WithComponent("pool").Warn().
				Err(err).
				Int("requested", target).
				Int("achieved", p.Size()).
				Msg("scale_to: could not reach target, proceeding with shortfall")
		}
		return nil
	}

	excess := current - target
	p.mu.Lock()
	var idle, busy []*entry
	for _, id := range p.order {
		e := p.workers[id]
		switch e.w.State() {
		case worker.StateIdle:
			idle = append(idle, e)
		case worker.StateBusy:
			if !e.draining {
				busy = append(busy, e)
			}
		}
	}

	toTerminate := idle
	if len(toTerminate) > excess {
		toTerminate = toTerminate[:excess]
	}
	remaining := excess - len(toTerminate)

	var draining []*entry
	for i := 0; i < remaining && i < len(busy); i++ {
		busy[i].draining = true
		draining = append(draining, busy[i])
	}
	p.mu.Unlock()

	for _, e := range toTerminate {
		_ = p.Terminate(e.w.ID, 5*time.Second)
	}
	if len(draining) > 0 {
		logger.WithComponent("pool").Info().
			Int("count", len(draining)).
			Msg("scale_to: marked busy instances draining")
	}
	return nil
}

// Acquire returns an idle worker for dispatch, non-blocking, and marks it
// busy before returning it. If pinned is non-empty, only that worker is
// considered. Among eligible idle workers, the least-recently-used one is
// chosen, ties broken by ascending ID. Marking busy under p.mu closes the
// race where two dispatchers both observe the same worker idle and both
// believe they acquired it: whichever runs Acquire second sees the state
// this call just set.
func (p *Pool) Acquire(pinned string) (*worker.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pinned != "" {
		e, ok := p.workers[pinned]
		if !ok || !e.w.TryMarkBusy() {
			return nil, ErrNoneAvailable
		}
		e.acquiredAt = time.Now().UTC()
		return e.w, nil
	}

	var candidates []*entry
	for _, id := range p.order {
		e := p.workers[id]
		if e.w.State() == worker.StateIdle {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoneAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastUsed.Equal(candidates[j].lastUsed) {
			return candidates[i].w.ID < candidates[j].w.ID
		}
		return candidates[i].lastUsed.Before(candidates[j].lastUsed)
	})

	for _, e := range candidates {
		if e.w.TryMarkBusy() {
			e.acquiredAt = time.Now().UTC()
			return e.w, nil
		}
	}
	return nil, ErrNoneAvailable
}

// Release returns a worker to the pool with its post-execution state. A
// worker marked draining while busy is terminated now instead of being
// handed back out for reuse.
func (p *Pool) Release(w *worker.Worker) {
	p.mu.Lock()
	e, ok := p.workers[w.ID]
	draining := ok && e.draining
	if ok {
		e.lastUsed = time.Now().UTC()
	}
	p.mu.Unlock()

	if draining {
		_ = p.Terminate(w.ID, 5*time.Second)
		return
	}
	w.MarkIdle()
}

// Size returns the current pool cardinality.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a snapshot of all managed workers.
func (p *Pool) Workers() []*worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*worker.Worker, 0, len(p.workers))
	for _, id := range p.order {
		out = append(out, p.workers[id].w)
	}
	return out
}

// Get returns a single worker by ID.
func (p *Pool) Get(id string) (*worker.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.workers[id]
	if !ok {
		return nil, false
	}
	return e.w, true
}

// StartHealthSweep runs health_sweep on a ticker until the pool is stopped.
func (p *Pool) StartHealthSweep(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.opts.HealthSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.healthSweep()
			}
		}
	}()
}

// healthSweep reaps workers that have gone unhealthy or stopped responding.
func (p *Pool) healthSweep() {
	log := logger.WithComponent("pool")
	p.mu.Lock()
	stale := make([]*worker.Worker, 0)
	for _, id := range p.order {
		e := p.workers[id]
		if !e.w.HealthProbe() {
			stale = append(stale, e.w)
			continue
		}
		if time.Since(e.w.LastHeartbeat()) > p.opts.UnhealthyAfter {
			e.w.MarkUnhealthy()
			stale = append(stale, e.w)
		}
	}
	p.mu.Unlock()

	for _, w := range stale {
		log.Warn().Str("worker_id", w.ID).Msg("health sweep reaping unhealthy instance")
		_ = p.Terminate(w.ID, 2*time.Second)
	}
}

// Shutdown terminates every managed worker.
func (p *Pool) Shutdown(grace time.Duration) {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = p.Terminate(id, grace)
		}(id)
	}
	wg.Wait()
}
