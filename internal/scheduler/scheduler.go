// Package scheduler periodically invokes the verifiers and records each
// outcome as a verification run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/clinichain/clinichain/internal/runs"
	"github.com/clinichain/clinichain/internal/verify"
)

// Default cadences: incremental runs are cheap (cost scales with new
// entries only) and frequent; full runs rescan everything and are daily.
const (
	DefaultIncrementalSpec = "*/5 * * * *"
	DefaultFullSpec        = "0 3 * * *"
	DefaultRunTimeout      = 10 * time.Minute
)

// Archiver persists a completed run's report to long-term storage.
// Implemented by the archive package; optional.
type Archiver interface {
	ArchiveRun(ctx context.Context, run *runs.Run) (string, error)
}

// Scheduler owns the verification cadences. Each invocation verifies,
// wraps the outcome in a run record, persists it, and notifies
// subscribers. A verification failure is recorded as data, never raised
// as an error that could crash the scheduler process.
type Scheduler struct {
	cron     *cron.Cron
	verifier *verify.Verifier
	repo     runs.Repository
	logger   *slog.Logger

	// IncrementalSpec and FullSpec are standard 5-field cron expressions.
	IncrementalSpec string
	FullSpec        string

	// RunTimeout bounds a single scheduled pass. Aborting mid-way is
	// safe: cursors only advance on fully successful chains.
	RunTimeout time.Duration

	// Optional collaborators; nil disables the corresponding behavior.
	Broadcaster *runs.Broadcaster
	Archiver    Archiver
	Metrics     *verify.Metrics
}

// New creates a Scheduler with default cadences.
func New(verifier *verify.Verifier, repo runs.Repository, logger *slog.Logger) (*Scheduler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("run repository cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:            cron.New(),
		verifier:        verifier,
		repo:            repo,
		logger:          logger,
		IncrementalSpec: DefaultIncrementalSpec,
		FullSpec:        DefaultFullSpec,
		RunTimeout:      DefaultRunTimeout,
	}, nil
}

// Start registers both cadences and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.IncrementalSpec, func() {
		s.scheduled(runs.ModeIncremental)
	}); err != nil {
		return fmt.Errorf("invalid incremental cron spec %q: %w", s.IncrementalSpec, err)
	}
	if _, err := s.cron.AddFunc(s.FullSpec, func() {
		s.scheduled(runs.ModeFull)
	}); err != nil {
		return fmt.Errorf("invalid full cron spec %q: %w", s.FullSpec, err)
	}
	s.cron.Start()
	s.logger.Info("verification scheduler started",
		slog.String("incremental", s.IncrementalSpec),
		slog.String("full", s.FullSpec))
	return nil
}

// Stop gracefully stops the cron loop. In-flight runs finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("verification scheduler stopped")
}

func (s *Scheduler) scheduled(mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.RunTimeout)
	defer cancel()
	s.Execute(ctx, mode, "")
}

// Execute runs one verification pass and records the outcome. chainID
// scopes the pass to a single chain; empty means every chain. The
// returned run is always non-nil; its status carries the contract for
// process exit codes (ok=0, broken=1, error=2).
func (s *Scheduler) Execute(ctx context.Context, mode, chainID string) *runs.Run {
	start := time.Now()
	run := &runs.Run{
		ID:    uuid.New().String(),
		RunAt: start.UTC(),
		Mode:  mode,
		Scope: runs.ScopeAll,
	}
	if chainID != "" {
		run.Scope = chainID
	}

	result, err := s.invoke(ctx, mode, chainID)
	if err != nil {
		run.Status = runs.StatusError
		run.Error = err.Error()
	} else {
		run.FromResult(result)
	}
	run.DurationMS = time.Since(start).Milliseconds()

	s.record(ctx, run)
	s.observe(run)

	if s.Broadcaster != nil {
		s.Broadcaster.Broadcast(run)
	}
	if s.Archiver != nil && mode == runs.ModeFull {
		if key, err := s.Archiver.ArchiveRun(ctx, run); err != nil {
			// Archiving is best-effort; it never changes the verdict.
			s.logger.Warn("failed to archive verification run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		} else {
			s.logger.Debug("verification run archived",
				slog.String("run_id", run.ID),
				slog.String("key", key))
		}
	}
	return run
}

func (s *Scheduler) invoke(ctx context.Context, mode, chainID string) (*verify.Result, error) {
	switch {
	case mode == runs.ModeFull && chainID == "":
		return s.verifier.VerifyAll(ctx)
	case mode == runs.ModeFull:
		return s.verifier.VerifyChain(ctx, chainID)
	case mode == runs.ModeIncremental && chainID == "":
		return s.verifier.VerifyIncrementalAll(ctx)
	case mode == runs.ModeIncremental:
		return s.verifier.VerifyIncremental(ctx, chainID)
	default:
		return nil, fmt.Errorf("unknown verification mode %q", mode)
	}
}

func (s *Scheduler) record(ctx context.Context, run *runs.Run) {
	if err := s.repo.Record(ctx, run); err != nil {
		// The run still happened; log loudly and keep the outcome in the
		// process log for forensics.
		s.logger.Error("failed to record verification run",
			slog.String("run_id", run.ID),
			slog.String("mode", run.Mode),
			slog.String("status", run.Status),
			slog.String("error", err.Error()))
		return
	}

	attrs := []slog.Attr{
		slog.String("run_id", run.ID),
		slog.String("mode", run.Mode),
		slog.String("scope", run.Scope),
		slog.String("status", run.Status),
		slog.Int64("total_entries", run.TotalEntries),
		slog.Int64("verified_entries", run.VerifiedEntries),
		slog.Int64("duration_ms", run.DurationMS),
	}
	switch run.Status {
	case runs.StatusBroken:
		attrs = append(attrs,
			slog.String("broken_chain_id", run.BrokenChainID),
			slog.String("broken_at_id", run.BrokenAtID),
			slog.String("break_reason", run.BreakReason))
		s.logger.LogAttrs(ctx, slog.LevelError, "verification run found a broken chain", attrs...)
	case runs.StatusError:
		attrs = append(attrs, slog.String("error", run.Error))
		s.logger.LogAttrs(ctx, slog.LevelError, "verification run failed", attrs...)
	default:
		s.logger.LogAttrs(ctx, slog.LevelInfo, "verification run completed", attrs...)
	}
}

func (s *Scheduler) observe(run *runs.Run) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.IncRuns(run.Mode, run.Status)
	s.Metrics.ObserveRunDuration(run.Mode, float64(run.DurationMS)/1000)
	s.Metrics.AddEntriesVerified(run.Mode, run.VerifiedEntries)
	s.Metrics.SetLastRunIntact(run.Mode, run.Intact && run.Status == runs.StatusOK)
}
