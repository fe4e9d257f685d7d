// Package batch implements transactional bulk cell/job creation and
// batched broker publication for a newly added entity (spec §4.3).
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/models"
)

// Result is the outcome of ProcessEntityAddedToSet: the cells and jobs
// actually created (duplicates against existing signatures are silently
// dropped, per the dedup invariant §4.2.3).
type Result struct {
	Cells []models.MatrixCell
	Jobs  []models.QAJob
}

// Service creates cells, refs, and jobs transactionally, then publishes QA
// job messages to the broker.
type Service struct {
	pool      *pgxpool.Pool
	publisher broker.Publisher
}

// New constructs a Service.
func New(pool *pgxpool.Pool, publisher broker.Publisher) *Service {
	return &Service{pool: pool, publisher: publisher}
}

// ProcessEntityAddedToSet implements process_entity_added_to_set (§4.3).
func (s *Service) ProcessEntityAddedToSet(ctx context.Context, matrixID, entityID, entitySetID int64, createQAJobs bool) (Result, error) {
	var matrixType models.MatrixType
	if err := s.pool.QueryRow(ctx, `SELECT matrix_type FROM matrix WHERE id = $1`, matrixID).Scan(&matrixType); err != nil {
		return Result{}, fmt.Errorf("load matrix %d: %w", matrixID, err)
	}

	state, event, err := s.loadStateAndEvent(ctx, matrixID, entitySetID, entityID)
	if err != nil {
		return Result{}, err
	}

	strategy, err := cellstrategy.Select(matrixType, nil, nil, nil)
	if err != nil {
		return Result{}, err
	}
	specs, err := strategy.SpecsForNewEntity(state, event)
	if err != nil {
		return Result{}, fmt.Errorf("compute cell specs: %w", err)
	}

	existingSignatures, err := s.loadExistingSignatures(ctx, matrixID)
	if err != nil {
		return Result{}, err
	}
	specs = dropExisting(specs, existingSignatures)
	if len(specs) == 0 {
		return Result{}, nil
	}

	companyID, err := s.companyIDForMatrix(ctx, matrixID)
	if err != nil {
		return Result{}, err
	}

	result, err := s.createCellsAndJobs(ctx, matrixID, companyID, specs, createQAJobs)
	if err != nil {
		return Result{}, err
	}

	if createQAJobs {
		s.publishJobs(ctx, result)
	}
	return result, nil
}

func (s *Service) companyIDForMatrix(ctx context.Context, matrixID int64) (string, error) {
	var companyID string
	if err := s.pool.QueryRow(ctx, `SELECT company_id FROM matrix WHERE id = $1`, matrixID).Scan(&companyID); err != nil {
		return "", fmt.Errorf("load matrix company for %d: %w", matrixID, err)
	}
	return companyID, nil
}

func (s *Service) loadStateAndEvent(ctx context.Context, matrixID, entitySetID, entityID int64) (cellstrategy.MatrixState, cellstrategy.NewEntityEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_set_id, entity_type, entity_id, member_order, label, deleted
		 FROM entity_set_member
		 WHERE entity_set_id IN (
		     SELECT id FROM entity_set WHERE matrix_id = $1 AND NOT deleted
		 ) AND NOT deleted
		 ORDER BY member_order ASC`,
		matrixID,
	)
	if err != nil {
		return cellstrategy.MatrixState{}, cellstrategy.NewEntityEvent{}, fmt.Errorf("load matrix members: %w", err)
	}
	defer rows.Close()

	var state cellstrategy.MatrixState
	var newMember *models.EntitySetMember
	for rows.Next() {
		var m models.EntitySetMember
		if err := rows.Scan(&m.ID, &m.EntitySetID, &m.EntityType, &m.EntityID, &m.MemberOrder, &m.Label, &m.Deleted); err != nil {
			return cellstrategy.MatrixState{}, cellstrategy.NewEntityEvent{}, fmt.Errorf("scan matrix member: %w", err)
		}
		switch m.EntityType {
		case models.EntityTypeDocument:
			state.Documents = append(state.Documents, m)
			if state.DocumentSetID == 0 {
				state.DocumentSetID = m.EntitySetID
			}
		case models.EntityTypeQuestion:
			state.Questions = append(state.Questions, m)
			if state.QuestionSetID == 0 {
				state.QuestionSetID = m.EntitySetID
			}
		}
		if m.EntitySetID == entitySetID && m.EntityID == entityID {
			copy := m
			newMember = &copy
		}
	}
	if err := rows.Err(); err != nil {
		return cellstrategy.MatrixState{}, cellstrategy.NewEntityEvent{}, fmt.Errorf("iterate matrix members: %w", err)
	}
	if newMember == nil {
		return cellstrategy.MatrixState{}, cellstrategy.NewEntityEvent{}, fmt.Errorf("batch: entity %d not found as a member of set %d", entityID, entitySetID)
	}

	return state, cellstrategy.NewEntityEvent{
		EntitySetID: entitySetID,
		EntityType:  newMember.EntityType,
		Member:      *newMember,
	}, nil
}

func (s *Service) loadExistingSignatures(ctx context.Context, matrixID int64) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT cell_signature FROM matrix_cell WHERE matrix_id = $1 AND NOT deleted`, matrixID)
	if err != nil {
		return nil, fmt.Errorf("load existing cell signatures: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("scan cell signature: %w", err)
		}
		existing[sig] = true
	}
	return existing, rows.Err()
}

func dropExisting(specs []models.CellSpec, existing map[string]bool) []models.CellSpec {
	out := specs[:0]
	for _, spec := range specs {
		if !existing[spec.CellSignature] {
			out = append(out, spec)
		}
	}
	return out
}

func (s *Service) createCellsAndJobs(ctx context.Context, matrixID int64, companyID string, specs []models.CellSpec, createQAJobs bool) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result Result
	for _, spec := range specs {
		cellID, ok, err := insertCell(ctx, tx, matrixID, companyID, spec)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			// Lost a race against a concurrent batch inserting the same
			// signature; treat as already created, per the concurrency
			// policy in §4.3.
			continue
		}

		for _, ref := range spec.Refs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cell_entity_ref (matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				cellID, matrixID, ref.EntitySetID, ref.EntitySetMemberID, ref.Role, ref.EntityOrder, companyID,
			); err != nil {
				return Result{}, fmt.Errorf("insert cell entity ref: %w", err)
			}
		}

		cell := models.MatrixCell{
			ID: cellID, MatrixID: matrixID, CompanyID: companyID,
			Status: models.CellStatusPending, CellType: spec.CellType, CellSignature: spec.CellSignature,
		}
		result.Cells = append(result.Cells, cell)

		if createQAJobs {
			var jobID int64
			if err := tx.QueryRow(ctx,
				`INSERT INTO qa_job (matrix_cell_id, status) VALUES ($1, 'QUEUED') RETURNING id`,
				cellID,
			).Scan(&jobID); err != nil {
				return Result{}, fmt.Errorf("insert qa job: %w", err)
			}
			result.Jobs = append(result.Jobs, models.QAJob{ID: jobID, MatrixCellID: cellID, Status: models.QAJobStatusQueued})
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

func insertCell(ctx context.Context, tx pgx.Tx, matrixID int64, companyID string, spec models.CellSpec) (int64, bool, error) {
	var cellID int64
	err := database.WithSavepoint(ctx, tx, func(sp pgx.Tx) error {
		return sp.QueryRow(ctx,
			`INSERT INTO matrix_cell (matrix_id, company_id, status, cell_type, cell_signature)
			 VALUES ($1, $2, 'PENDING', $3, $4)
			 RETURNING id`,
			matrixID, companyID, spec.CellType, spec.CellSignature,
		).Scan(&cellID)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert matrix cell: %w", err)
	}
	return cellID, true, nil
}

// publishJobs publishes one QAJobMessage per created job, best-effort: a
// publish failure downgrades that job to FAILED with a fixed error message
// and leaves the cell PENDING for reprocessing to pick up later (§4.3 step
// 6), it does not fail the whole batch.
func (s *Service) publishJobs(ctx context.Context, result Result) {
	for i, job := range result.Jobs {
		msg := models.QAJobMessage{JobID: job.ID, MatrixCellID: job.MatrixCellID}
		if err := s.publisher.Publish(ctx, broker.QueueQAWorker, msg); err != nil {
			s.markJobFailedToQueue(ctx, job.ID)
			result.Jobs[i].Status = models.QAJobStatusFailed
		}
	}
}

func (s *Service) markJobFailedToQueue(ctx context.Context, jobID int64) {
	const msg = "Failed to queue job"
	if _, err := s.pool.Exec(ctx,
		`UPDATE qa_job SET status = 'FAILED', error_message = $2 WHERE id = $1`,
		jobID, msg,
	); err != nil {
		// Best-effort: if even the status update fails, the job remains
		// QUEUED and reprocessing will eventually re-drive it.
		_ = err
	}
}
