// Package entityset implements CRUD, batch membership adds, and order
// preservation for entity sets and their members (spec §4.1).
package entityset

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/services"
)

// Service provides entity-set CRUD and ordered batch membership adds.
type Service struct {
	pool *pgxpool.Pool
}

// New constructs a Service backed by pool.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// AddMembersBatch creates members for entityIDs in [0, n) order, starting
// after the current max member_order, deduplicating against existing
// non-deleted members by (entity_set_id, entity_type, entity_id). A
// unique-constraint race on an individual insert is treated as
// already-created, matching the "caller retries idempotently" contract —
// it does not fail the batch.
func (s *Service) AddMembersBatch(ctx context.Context, entitySetID int64, entityIDs []int64, entityType models.EntityType, companyID string) ([]models.EntitySetMember, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var set models.EntitySet
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT entity_type, deleted FROM entity_set WHERE id = $1 AND company_id = $2`,
		entitySetID, companyID,
	).Scan(&set.EntityType, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load entity set: %w", err)
	}
	if deleted {
		return nil, services.ErrNotFound
	}
	if set.EntityType != entityType {
		return nil, services.NewValidationError("entity_type", "must match the entity set's entity_type")
	}

	var nextOrder int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(member_order) + 1, 0) FROM entity_set_member
		 WHERE entity_set_id = $1 AND NOT deleted`,
		entitySetID,
	).Scan(&nextOrder); err != nil {
		return nil, fmt.Errorf("load next member order: %w", err)
	}

	created := make([]models.EntitySetMember, 0, len(entityIDs))
	for i, entityID := range entityIDs {
		var id int64
		err := database.WithSavepoint(ctx, tx, func(sp pgx.Tx) error {
			return sp.QueryRow(ctx,
				`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id`,
				entitySetID, entityType, entityID, nextOrder+i,
			).Scan(&id)
		})
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Already a non-deleted member; dedup by (entity_set_id,
				// entity_type, entity_id) treats the race as success.
				continue
			}
			return nil, fmt.Errorf("insert entity set member: %w", err)
		}
		created = append(created, models.EntitySetMember{
			ID:          id,
			EntitySetID: entitySetID,
			EntityType:  entityType,
			EntityID:    entityID,
			MemberOrder: nextOrder + i,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// GetMatrixEntitySets returns all non-deleted entity sets for matrixID in
// creation order (id ascending, which is also insertion order for the
// identity primary key).
func (s *Service) GetMatrixEntitySets(ctx context.Context, matrixID int64, companyID string) ([]models.EntitySet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, matrix_id, company_id, name, entity_type, deleted
		 FROM entity_set
		 WHERE matrix_id = $1 AND company_id = $2 AND NOT deleted
		 ORDER BY id ASC`,
		matrixID, companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entity sets: %w", err)
	}
	defer rows.Close()

	var sets []models.EntitySet
	for rows.Next() {
		var es models.EntitySet
		if err := rows.Scan(&es.ID, &es.MatrixID, &es.CompanyID, &es.Name, &es.EntityType, &es.Deleted); err != nil {
			return nil, fmt.Errorf("scan entity set: %w", err)
		}
		sets = append(sets, es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity sets: %w", err)
	}
	return sets, nil
}

// GetSetMembers returns the non-deleted members of entitySetID, in member
// order.
func (s *Service) GetSetMembers(ctx context.Context, entitySetID int64) ([]models.EntitySetMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_set_id, entity_type, entity_id, member_order, label, deleted
		 FROM entity_set_member
		 WHERE entity_set_id = $1 AND NOT deleted
		 ORDER BY member_order ASC`,
		entitySetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entity set members: %w", err)
	}
	defer rows.Close()

	var members []models.EntitySetMember
	for rows.Next() {
		var m models.EntitySetMember
		if err := rows.Scan(&m.ID, &m.EntitySetID, &m.EntityType, &m.EntityID, &m.MemberOrder, &m.Label, &m.Deleted); err != nil {
			return nil, fmt.Errorf("scan entity set member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity set members: %w", err)
	}
	return members, nil
}
