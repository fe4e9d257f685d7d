package template

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncService reconciles question_template_variable associations against a
// question's current text whenever that text changes.
type SyncService struct {
	pool *pgxpool.Pool
}

// NewSyncService constructs a SyncService.
func NewSyncService(pool *pgxpool.Pool) *SyncService {
	return &SyncService{pool: pool}
}

// SyncQuestionTemplateVariables implements §4.10's synchronization rule:
// diff the `#{{id}}` ids extracted from newText against questionID's
// current associations, restore soft-deleted ones where possible, create
// missing ones, and soft-delete stale ones. matrixID scopes which
// matrix_template_variable rows are valid targets.
func (s *SyncService) SyncQuestionTemplateVariables(ctx context.Context, questionID, matrixID int64, newText string) error {
	wanted := ExtractVariableIDs(newText)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	validIDs := make(map[int64]bool, len(wanted))
	if len(wanted) > 0 {
		rows, err := tx.Query(ctx,
			`SELECT id FROM matrix_template_variable WHERE matrix_id = $1 AND id = ANY($2) AND NOT deleted`,
			matrixID, wanted,
		)
		if err != nil {
			return fmt.Errorf("validate template variable ids: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan template variable id: %w", err)
			}
			validIDs[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate template variable ids: %w", err)
		}
	}

	currentRows, err := tx.Query(ctx,
		`SELECT template_variable_id, deleted FROM question_template_variable WHERE question_id = $1`,
		questionID,
	)
	if err != nil {
		return fmt.Errorf("load current associations: %w", err)
	}
	current := make(map[int64]bool)
	for currentRows.Next() {
		var variableID int64
		var deleted bool
		if err := currentRows.Scan(&variableID, &deleted); err != nil {
			currentRows.Close()
			return fmt.Errorf("scan current association: %w", err)
		}
		current[variableID] = !deleted
	}
	currentRows.Close()
	if err := currentRows.Err(); err != nil {
		return fmt.Errorf("iterate current associations: %w", err)
	}

	for variableID := range validIDs {
		active, exists := current[variableID]
		switch {
		case exists && active:
			// already associated and active, nothing to do
		case exists && !active:
			if _, err := tx.Exec(ctx,
				`UPDATE question_template_variable SET deleted = false WHERE question_id = $1 AND template_variable_id = $2`,
				questionID, variableID,
			); err != nil {
				return fmt.Errorf("restore association for variable %d: %w", variableID, err)
			}
		default:
			if _, err := tx.Exec(ctx,
				`INSERT INTO question_template_variable (question_id, template_variable_id, deleted) VALUES ($1, $2, false)`,
				questionID, variableID,
			); err != nil {
				return fmt.Errorf("create association for variable %d: %w", variableID, err)
			}
		}
	}

	for variableID, active := range current {
		if active && !validIDs[variableID] {
			if _, err := tx.Exec(ctx,
				`UPDATE question_template_variable SET deleted = true WHERE question_id = $1 AND template_variable_id = $2`,
				questionID, variableID,
			); err != nil {
				return fmt.Errorf("soft-delete stale association for variable %d: %w", variableID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit template variable sync: %w", err)
	}
	return nil
}
