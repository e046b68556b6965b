// Package runs records verification run outcomes for dashboards and
// alerting. Run history is append-only: a run record is written once per
// scheduler invocation and never mutated.
package runs

import (
	"time"

	"github.com/clinichain/clinichain/internal/verify"
)

// Verification modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Run statuses. Broken and error are deliberately distinct: broken means
// tampering or corruption was detected, error means the run itself could
// not complete (e.g. the secret store was unreachable). Both alert, but
// they page different people.
const (
	StatusOK     = "ok"
	StatusBroken = "broken"
	StatusError  = "error"
)

// ScopeAll marks a run that covered every chain.
const ScopeAll = "all"

// Run is one verification run's recorded outcome.
type Run struct {
	ID              string         `json:"id"`
	RunAt           time.Time      `json:"run_at"`
	Mode            string         `json:"mode"`
	Scope           string         `json:"scope"`
	Status          string         `json:"status"`
	Intact          bool           `json:"intact"`
	TotalEntries    int64          `json:"total_entries"`
	VerifiedEntries int64          `json:"verified_entries"`
	BrokenChainID   string         `json:"broken_chain_id,omitempty"`
	BrokenAtID      string         `json:"broken_at_id,omitempty"`
	BreakReason     string         `json:"break_reason,omitempty"`
	Expected        string         `json:"expected,omitempty"`
	Actual          string         `json:"actual,omitempty"`
	Error           string         `json:"error,omitempty"`

	// DurationMS is the run's wall-clock duration in milliseconds, matching
	// the duration_ms column and the wire field name.
	DurationMS int64 `json:"duration_ms"`
}

// ExitCode maps a run's status to the process exit code contract:
// 0 intact, 1 broken, 2 operational error.
func (r *Run) ExitCode() int {
	switch r.Status {
	case StatusOK:
		return 0
	case StatusBroken:
		return 1
	default:
		return 2
	}
}

// FromResult populates the outcome fields of a run from a verification
// result.
func (r *Run) FromResult(result *verify.Result) {
	r.Intact = result.Intact
	r.TotalEntries = result.TotalEntries
	r.VerifiedEntries = result.VerifiedEntries
	if result.Break != nil {
		r.BrokenChainID = result.Break.ChainID
		r.BrokenAtID = result.Break.EntryID
		r.BreakReason = result.Break.Reason
		r.Expected = result.Break.Expected
		r.Actual = result.Break.Actual
	}
	switch {
	case !result.Intact:
		r.Status = StatusBroken
	case result.Errored():
		r.Status = StatusError
		r.Error = result.ChainErrors[0].Err.Error()
	default:
		r.Status = StatusOK
	}
}
