package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dtolnay-contrib/quickcfg/pkg/telemetry"
)

// Options configures a Scheduler.
type Options struct {
	// Workers bounds the pool. Zero means NumCPU.
	Workers int

	// DryRun reports skip/run decisions without executing actions or updating
	// the cache.
	DryRun bool

	// Force ignores the cache and runs every unit.
	Force bool

	// Metrics and Tracer are optional observability sinks.
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Scheduler executes a unit graph with bounded parallelism. A unit starts
// only after all its dependencies are Done; a failure blocks every transitive
// dependent while unrelated subgraphs continue.
type Scheduler struct {
	cache Cache
	opts  Options
}

// NewScheduler creates a scheduler over the given change-detection cache.
func NewScheduler(cache Cache, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{cache: cache, opts: opts}
}

// Run drains the graph and returns the per-unit outcomes. The graph and all
// fingerprint inputs are immutable during execution; the only shared mutable
// state is the readiness bookkeeping, owned exclusively by this goroutine,
// and the cache store, which serializes its own writes.
func (s *Scheduler) Run(ctx context.Context, g *Graph) *Report {
	report := &Report{RunID: uuid.New().String(), StartedAt: time.Now()}

	n := g.Len()
	if n == 0 {
		return report
	}

	ctx, endRun := s.opts.Tracer.StartRun(ctx, report.RunID)

	log.Info().
		Str("run_id", report.RunID).
		Int("units", n).
		Int("workers", s.opts.Workers).
		Bool("dry_run", s.opts.DryRun).
		Msg("run started")

	indegree := g.Indegree()
	status := make(map[string]Status, n)
	results := make(map[string]UnitResult, n)
	for _, id := range g.order {
		status[id] = StatusPending
	}

	readyCh := make(chan *Unit, n)
	doneCh := make(chan UnitResult, n)

	workers := s.opts.Workers
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	var exclusive sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range readyCh {
				doneCh <- s.execute(ctx, unit, &exclusive)
			}
		}()
	}

	dispatch := func(unit *Unit) {
		status[unit.ID] = StatusReady
		readyCh <- unit
	}

	finished := 0
	settle := func(res UnitResult) {
		results[res.UnitID] = res
		status[res.UnitID] = res.Status
		finished++
		s.opts.Metrics.UnitFinished(string(res.Status))
	}

	// block marks every transitive dependent of id as terminal-Blocked.
	// Blocked candidates are always still Pending: a unit with a failed
	// dependency can never have reached indegree zero.
	var block func(id string)
	block = func(id string) {
		for _, dep := range g.Dependents(id) {
			if status[dep].Terminal() {
				continue
			}
			unit, _ := g.Unit(dep)
			settle(UnitResult{UnitID: dep, System: unit.System, Status: StatusBlocked})
			log.Warn().Str("unit", dep).Str("cause", id).Msg("unit blocked by failed dependency")
			block(dep)
		}
	}

	for _, unit := range g.Units() {
		if indegree[unit.ID] == 0 {
			dispatch(unit)
		}
	}

	for finished < n {
		res := <-doneCh
		settle(res)

		if res.Status.Success() {
			for _, dep := range g.Dependents(res.UnitID) {
				if status[dep].Terminal() {
					continue
				}
				indegree[dep]--
				if indegree[dep] == 0 {
					unit, _ := g.Unit(dep)
					dispatch(unit)
				}
			}
		} else {
			block(res.UnitID)
		}
	}

	close(readyCh)
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	for _, id := range g.order {
		report.Results = append(report.Results, results[id])
	}

	summary := report.Summary()
	s.opts.Metrics.RunFinished(report.Success(), report.Duration)
	endRun(report.Success())

	log.Info().
		Str("run_id", report.RunID).
		Int("applied", summary.Applied).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("blocked", summary.Blocked).
		Dur("duration", report.Duration).
		Msg("run finished")

	return report
}

// execute applies one unit: consult the cache, run the action, record on
// success. A worker blocks only here; unrelated branches keep draining.
func (s *Scheduler) execute(ctx context.Context, unit *Unit, exclusive *sync.Mutex) UnitResult {
	res := UnitResult{UnitID: unit.ID, System: unit.System}
	now := time.Now()

	run, err := s.cache.ShouldRun(unit.ID, unit.Fingerprint, unit.Refresh, now)
	if err != nil {
		res.Status = StatusFailed
		res.Err = NewExecutionError("cache lookup failed", err).WithUnit(unit.ID)
		return res
	}
	if !run && !s.opts.Force {
		log.Debug().Str("unit", unit.ID).Msg("unchanged, skipping")
		res.Status = StatusSkipped
		return res
	}

	if s.opts.DryRun {
		log.Info().Str("unit", unit.ID).Str("action", unit.Description).Msg("would apply")
		res.Status = StatusApplied
		return res
	}

	ctx, endUnit := s.opts.Tracer.StartUnit(ctx, unit.ID, unit.System)
	log.Debug().Str("unit", unit.ID).Str("action", unit.Description).Msg("applying")

	if unit.Exclusive {
		exclusive.Lock()
	}
	err = unit.Action(ctx)
	if unit.Exclusive {
		exclusive.Unlock()
	}
	res.Duration = time.Since(now)

	if err != nil {
		res.Status = StatusFailed
		res.Err = NewExecutionError("apply failed", err).WithUnit(unit.ID).WithSystem(unit.System)
		endUnit(res.Err)
		log.Error().Err(err).Str("unit", unit.ID).Msg("unit failed")
		return res
	}

	// Flush-per-unit: already-applied work survives a crash between units.
	if err := s.cache.Record(ctx, unit.ID, unit.Fingerprint, time.Now()); err != nil {
		res.Status = StatusFailed
		res.Err = NewExecutionError("recording cache entry failed", err).WithUnit(unit.ID)
		endUnit(res.Err)
		return res
	}

	res.Status = StatusApplied
	endUnit(nil)
	log.Info().Str("unit", unit.ID).Dur("took", res.Duration).Msg(unit.Description)
	return res
}
