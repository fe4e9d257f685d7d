// Package reprocess implements the reprocessing service (spec §4.11):
// selecting a set of a matrix's existing cells by filter and re-enqueuing
// them for QA, without recomputing cell specs or touching signatures.
package reprocess

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/models"
)

// EntitySetFilter selects cells whose refs include at least one entry
// matching entitySetID, role, and an entity_id in EntityIDs.
type EntitySetFilter struct {
	EntitySetID int64       `json:"entity_set_id"`
	Role        models.Role `json:"role"`
	EntityIDs   []int64     `json:"entity_ids"`
}

// Selection picks which of a matrix's non-deleted cells to re-enqueue.
// Exactly one of WholeMatrix, CellIDs, or EntitySetFilters should be set;
// WholeMatrix wins if more than one is populated.
type Selection struct {
	WholeMatrix      bool
	CellIDs          []int64
	EntitySetFilters []EntitySetFilter
}

// Result reports how many cells were matched and re-queued.
type Result struct {
	MatchedCells int
	Jobs         []models.QAJob
}

// Service selects matching cells and creates+publishes a fresh qa_job for
// each, batched.
type Service struct {
	pool      *pgxpool.Pool
	publisher broker.Publisher
}

// New constructs a Service.
func New(pool *pgxpool.Pool, publisher broker.Publisher) *Service {
	return &Service{pool: pool, publisher: publisher}
}

// Reprocess implements §4.11.
func (s *Service) Reprocess(ctx context.Context, matrixID int64, selection Selection) (Result, error) {
	cellIDs, err := s.selectCells(ctx, matrixID, selection)
	if err != nil {
		return Result{}, err
	}
	if len(cellIDs) == 0 {
		return Result{}, nil
	}

	jobs, err := s.createJobs(ctx, cellIDs)
	if err != nil {
		return Result{}, err
	}

	s.publishJobs(ctx, jobs)
	return Result{MatchedCells: len(cellIDs), Jobs: jobs}, nil
}

func (s *Service) selectCells(ctx context.Context, matrixID int64, selection Selection) ([]int64, error) {
	switch {
	case selection.WholeMatrix:
		return s.selectWholeMatrix(ctx, matrixID)
	case len(selection.CellIDs) > 0:
		return s.selectByCellIDs(ctx, matrixID, selection.CellIDs)
	case len(selection.EntitySetFilters) > 0:
		return s.selectByEntitySetFilters(ctx, matrixID, selection.EntitySetFilters)
	default:
		return nil, fmt.Errorf("reprocess: selection names no cells (whole_matrix, cell_ids, or entity_set_filters required)")
	}
}

func (s *Service) selectWholeMatrix(ctx context.Context, matrixID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM matrix_cell WHERE matrix_id = $1 AND NOT deleted`, matrixID)
	if err != nil {
		return nil, fmt.Errorf("select whole matrix cells: %w", err)
	}
	defer rows.Close()
	return scanCellIDs(rows)
}

func (s *Service) selectByCellIDs(ctx context.Context, matrixID int64, cellIDs []int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM matrix_cell WHERE matrix_id = $1 AND NOT deleted AND id = ANY($2)`,
		matrixID, cellIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select cells by id: %w", err)
	}
	defer rows.Close()
	return scanCellIDs(rows)
}

// selectByEntitySetFilters implements the "a cell matches iff, for every
// filter, at least one of its refs has matching entity_set_id, role, and
// entity_set_member.entity_id ∈ entity_ids" rule. Each filter is applied as
// its own EXISTS clause so the AND across filters is a true per-cell AND,
// not a join that would multiply rows.
func (s *Service) selectByEntitySetFilters(ctx context.Context, matrixID int64, filters []EntitySetFilter) ([]int64, error) {
	query := `SELECT c.id FROM matrix_cell c WHERE c.matrix_id = $1 AND NOT c.deleted`
	args := []any{matrixID}
	for _, f := range filters {
		args = append(args, f.EntitySetID, f.Role, f.EntityIDs)
		query += fmt.Sprintf(`
			AND EXISTS (
				SELECT 1 FROM cell_entity_ref r
				JOIN entity_set_member m ON m.id = r.entity_set_member_id
				WHERE r.matrix_cell_id = c.id
				  AND r.entity_set_id = $%d
				  AND r.role = $%d
				  AND m.entity_id = ANY($%d)
			)`, len(args)-2, len(args)-1, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select cells by entity set filters: %w", err)
	}
	defer rows.Close()
	return scanCellIDs(rows)
}

func scanCellIDs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cell id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) createJobs(ctx context.Context, cellIDs []int64) ([]models.QAJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs := make([]models.QAJob, 0, len(cellIDs))
	for _, cellID := range cellIDs {
		var jobID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO qa_job (matrix_cell_id, status) VALUES ($1, 'QUEUED') RETURNING id`,
			cellID,
		).Scan(&jobID); err != nil {
			return nil, fmt.Errorf("insert qa job for cell %d: %w", cellID, err)
		}
		jobs = append(jobs, models.QAJob{ID: jobID, MatrixCellID: cellID, Status: models.QAJobStatusQueued})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return jobs, nil
}

// publishJobs mirrors pkg/batch's best-effort publish: a publish failure
// downgrades that job to FAILED and leaves its cell for a later
// reprocessing pass to pick up again.
func (s *Service) publishJobs(ctx context.Context, jobs []models.QAJob) {
	for i, job := range jobs {
		msg := models.QAJobMessage{JobID: job.ID, MatrixCellID: job.MatrixCellID}
		if err := s.publisher.Publish(ctx, broker.QueueQAWorker, msg); err != nil {
			s.markJobFailedToQueue(ctx, job.ID)
			jobs[i].Status = models.QAJobStatusFailed
		}
	}
}

func (s *Service) markJobFailedToQueue(ctx context.Context, jobID int64) {
	const msg = "Failed to queue job"
	if _, err := s.pool.Exec(ctx,
		`UPDATE qa_job SET status = 'FAILED', error_message = $2 WHERE id = $1`,
		jobID, msg,
	); err != nil {
		_ = err
	}
}
