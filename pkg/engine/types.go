package engine

import (
	"context"
	"time"

	"github.com/dtolnay-contrib/quickcfg/pkg/hierarchy"
)

// Unit is one schedulable piece of work derived from a system. Units are
// created once per run; everything but runtime status is immutable during
// execution.
type Unit struct {
	// ID uniquely identifies the unit across runs; it is the cache key.
	ID string

	// System is the owning system's display name.
	System string

	// Description says what applying the unit does.
	Description string

	// Keys are the hierarchy-key dependencies the unit's inputs were resolved
	// from. Their resolved values are already folded into Fingerprint.
	Keys []hierarchy.Dep

	// DependsOn lists unit IDs that must reach Done before this unit starts.
	DependsOn []string

	// Fingerprint is the content hash of the unit's declared inputs, computed
	// during graph build while all inputs are immutable.
	Fingerprint string

	// Refresh enables the time gate: when positive, the unit runs whenever
	// now - last run time >= Refresh, regardless of fingerprint.
	Refresh time.Duration

	// Exclusive units are never run concurrently with each other (package
	// managers that prompt for input).
	Exclusive bool

	// OutputPath is the filesystem path the unit materializes, used to derive
	// cross-system ordering edges. Empty for units without a stable output.
	OutputPath string

	// InputPaths are filesystem paths the unit consumes; a unit producing an
	// ancestor of one of these gains an ordering edge to this unit.
	InputPaths []string

	// Action performs the unit's side effect. It must be idempotent when
	// re-applied with unchanged inputs.
	Action func(ctx context.Context) error
}

// Status is the runtime state of a unit.
type Status string

const (
	// StatusPending means dependencies have not all completed.
	StatusPending Status = "pending"

	// StatusReady means all dependencies are Done and the unit awaits a worker.
	StatusReady Status = "ready"

	// StatusRunning means a worker is applying the unit.
	StatusRunning Status = "running"

	// StatusSkipped means the cache proved the unit's inputs unchanged.
	StatusSkipped Status = "skipped"

	// StatusApplied means the unit's side effect ran and succeeded.
	StatusApplied Status = "applied"

	// StatusFailed means the unit's side effect failed.
	StatusFailed Status = "failed"

	// StatusBlocked means a transitive dependency failed; the unit never ran.
	StatusBlocked Status = "blocked"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkipped, StatusApplied, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Success reports whether the status counts as Done for dependents.
func (s Status) Success() bool {
	return s == StatusSkipped || s == StatusApplied
}

// UnitResult is the per-unit outcome of a run.
type UnitResult struct {
	// UnitID is the unit this result belongs to.
	UnitID string

	// System is the owning system's display name.
	System string

	// Status is the terminal status.
	Status Status

	// Err is the failure cause for StatusFailed.
	Err error

	// Duration is how long the action ran; zero for skipped and blocked units.
	Duration time.Duration
}

// Report is the outcome of a whole run.
type Report struct {
	// RunID identifies the run.
	RunID string

	// Results holds one result per unit, in graph insertion order.
	Results []UnitResult

	// StartedAt and Duration bound the run.
	StartedAt time.Time
	Duration  time.Duration
}

// Summary counts results by status.
type Summary struct {
	Total   int
	Applied int
	Skipped int
	Failed  int
	Blocked int
}

// Summary tallies the report.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusApplied:
			s.Applied++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusBlocked:
			s.Blocked++
		}
	}
	return s
}

// Success reports whether no unit ended Failed or Blocked. The process exit
// code mirrors this.
func (r *Report) Success() bool {
	s := r.Summary()
	return s.Failed == 0 && s.Blocked == 0
}

// Failures returns the failed results, then the blocked ones.
func (r *Report) Failures() []UnitResult {
	var out []UnitResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	for _, res := range r.Results {
		if res.Status == StatusBlocked {
			out = append(out, res)
		}
	}
	return out
}

// Cache is the change-detection store consulted before running a unit and
// updated after a unit's side effect succeeds.
type Cache interface {
	// ShouldRun reports whether the unit must run: no prior record, a
	// fingerprint mismatch, or (when refresh > 0) a stale last-run time.
	ShouldRun(unitID, fingerprint string, refresh time.Duration, now time.Time) (bool, error)

	// Record persists the unit's fingerprint and run time after success.
	Record(ctx context.Context, unitID, fingerprint string, now time.Time) error
}
