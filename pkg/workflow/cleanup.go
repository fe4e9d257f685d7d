package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupConfig tunes the stale-run sweep.
type CleanupConfig struct {
	// StaleAfter is how long a RUNNING workflow_run may go without a
	// heartbeat before the sweep considers it abandoned (its owning
	// process crashed or was killed) and fails it.
	StaleAfter time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
}

// DefaultCleanupConfig mirrors the values this engine ships with: a
// workflow run that hasn't heartbeat in 15 minutes is almost certainly
// abandoned, and a 5 minute sweep interval catches that promptly without
// scanning workflow_run constantly.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{StaleAfter: 15 * time.Minute, Interval: 5 * time.Minute}
}

// CleanupService periodically fails RUNNING workflow_run rows whose
// last_heartbeat_at has gone stale, so a crashed worker's in-flight
// workflows don't sit RUNNING forever and block USE_EXISTING-based resume
// semantics. All operations are idempotent and safe to run from multiple
// pods.
type CleanupService struct {
	pool   *pgxpool.Pool
	config CleanupConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(pool *pgxpool.Pool, config CleanupConfig) *CleanupService {
	return &CleanupService{pool: pool, config: config}
}

// Start launches the background sweep loop.
func (s *CleanupService) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("workflow cleanup service started",
		"stale_after", s.config.StaleAfter, "interval", s.config.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *CleanupService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("workflow cleanup service stopped")
}

func (s *CleanupService) run(ctx context.Context) {
	defer close(s.done)

	s.failStaleRuns(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.failStaleRuns(ctx)
		}
	}
}

func (s *CleanupService) failStaleRuns(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.StaleAfter)
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_run
		 SET status = $1, error_message = $2, updated_at = $3
		 WHERE status = $4 AND last_heartbeat_at < $5`,
		StatusFailed, "stale: no heartbeat within threshold", time.Now().UTC(), StatusRunning, cutoff,
	)
	if err != nil {
		slog.Error("workflow cleanup: fail stale runs failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("workflow cleanup: failed stale runs", "count", n)
	}
}
