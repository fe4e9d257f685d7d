// Package quota implements per-tenant, per-counter monthly quota checks
// and usage ledger tracking (spec §4.8).
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/models"
)

// ErrQuotaExceeded is raised by check_workflow_quota-style calls when the
// tenant is at or above its monthly limit.
var ErrQuotaExceeded = errors.New("quota: monthly limit exceeded")

// Limits is one tier's monthly counter ceilings.
type Limits struct {
	AgenticChunking int64
	Workflow        int64
}

// TierLimits is the static table keyed by subscription tier, pinned per
// DESIGN.md (spec leaves concrete limits to the implementation; S5 fixes
// FREE's agentic-chunking limit at 3).
var TierLimits = map[models.SubscriptionTier]Limits{
	models.SubscriptionTierFree: {AgenticChunking: 3, Workflow: 10},
}

// Service implements reservation, quota checks, and usage tracking.
type Service struct {
	pool *pgxpool.Pool
}

// New constructs a Service.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// ReserveResult is the outcome of ReserveAgenticChunkingIfAvailable.
type ReserveResult struct {
	Reserved     bool
	UsageEventID int64
	CurrentUsage int64
	Limit        int64
	Tier         models.SubscriptionTier
}

// ReserveAgenticChunkingIfAvailable implements
// reserve_agentic_chunking_if_available (§4.8). The check-and-append pair
// runs inside a single serializable transaction so concurrent reservations
// for the same tenant cannot both observe room under the limit.
func (s *Service) ReserveAgenticChunkingIfAvailable(ctx context.Context, companyID string) (ReserveResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("begin serializable tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tier, err := tierForCompany(ctx, tx, companyID)
	if err != nil {
		return ReserveResult{}, err
	}
	limit := TierLimits[tier].AgenticChunking

	sum, err := monthlySum(ctx, tx, companyID, models.UsageEventAgenticChunking)
	if err != nil {
		return ReserveResult{}, err
	}

	if sum >= limit {
		return ReserveResult{Reserved: false, CurrentUsage: sum, Limit: limit, Tier: tier}, nil
	}

	eventID, err := appendUsageEvent(ctx, tx, companyID, models.UsageEventAgenticChunking, 1, nil, models.UsageEventMetadata{})
	if err != nil {
		return ReserveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, fmt.Errorf("commit reservation: %w", err)
	}

	return ReserveResult{Reserved: true, UsageEventID: eventID, CurrentUsage: sum + 1, Limit: limit, Tier: tier}, nil
}

// RefundAgenticChunking appends a quantity=-1 usage event linked to
// originalEventID, restoring quota consumed by a reservation whose
// document failed chunking permanently (§9 S6).
func (s *Service) RefundAgenticChunking(ctx context.Context, companyID string, originalEventID int64) error {
	reason := "chunking_failed"
	metadata := models.UsageEventMetadata{RefundForEventID: &originalEventID, Reason: &reason}
	_, err := appendUsageEvent(ctx, s.pool, companyID, models.UsageEventAgenticChunking, -1, nil, metadata)
	return err
}

// UpdateAgenticChunkingMetadata implements
// update_agentic_chunking_metadata_activity (§4.6.2): it records the chunk
// count an agentic-chunking reservation produced, for usage reporting.
func (s *Service) UpdateAgenticChunkingMetadata(ctx context.Context, usageEventID int64, chunkCount int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE usage_event
		 SET event_metadata_json = event_metadata_json || jsonb_build_object('chunk_count', $1::int)
		 WHERE id = $2`,
		chunkCount, usageEventID,
	)
	if err != nil {
		return fmt.Errorf("update agentic chunking metadata for event %d: %w", usageEventID, err)
	}
	return nil
}

// CheckWorkflowQuota implements check_workflow_quota: returns
// ErrQuotaExceeded if companyID is at or above its monthly workflow limit.
func (s *Service) CheckWorkflowQuota(ctx context.Context, companyID string) error {
	tier, err := tierForCompany(ctx, s.pool, companyID)
	if err != nil {
		return err
	}
	limit := TierLimits[tier].Workflow

	sum, err := monthlySum(ctx, s.pool, companyID, models.UsageEventWorkflow)
	if err != nil {
		return err
	}
	if sum >= limit {
		return fmt.Errorf("%w: company %s at %d/%d workflows this month", ErrQuotaExceeded, companyID, sum, limit)
	}
	return nil
}

// TrackWorkflow appends a quantity=1 WORKFLOW usage event.
func (s *Service) TrackWorkflow(ctx context.Context, companyID string) error {
	_, err := appendUsageEvent(ctx, s.pool, companyID, models.UsageEventWorkflow, 1, nil, models.UsageEventMetadata{})
	return err
}

// TrackAgenticQA appends a quantity=1 AGENTIC_QA usage event.
func (s *Service) TrackAgenticQA(ctx context.Context, companyID string) error {
	_, err := appendUsageEvent(ctx, s.pool, companyID, models.UsageEventAgenticQA, 1, nil, models.UsageEventMetadata{})
	return err
}

// TrackCellOperations appends a quantity=n CELL_OPERATION usage event.
func (s *Service) TrackCellOperations(ctx context.Context, companyID string, quantity int64) error {
	_, err := appendUsageEvent(ctx, s.pool, companyID, models.UsageEventCellOperation, quantity, nil, models.UsageEventMetadata{})
	return err
}

// TrackStorageUpload appends a quantity=1 STORAGE_UPLOAD usage event with
// file_size_bytes set.
func (s *Service) TrackStorageUpload(ctx context.Context, companyID string, fileSizeBytes int64) error {
	_, err := appendUsageEvent(ctx, s.pool, companyID, models.UsageEventStorageUpload, 1, &fileSizeBytes, models.UsageEventMetadata{})
	return err
}

func tierForCompany(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, companyID string) (models.SubscriptionTier, error) {
	var tier models.SubscriptionTier
	err := q.QueryRow(ctx, `SELECT tier FROM subscription WHERE company_id = $1`, companyID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SubscriptionTierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("load subscription tier for %s: %w", companyID, err)
	}
	return tier, nil
}

// monthStartUTC returns the start of the current calendar month, UTC —
// the fixed window every quota computation uses (§3.6).
func monthStartUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthlySum(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, companyID string, eventType models.UsageEventType) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_event
		 WHERE company_id = $1 AND event_type = $2 AND created_at >= $3`,
		companyID, eventType, monthStartUTC(),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("compute monthly sum for %s/%s: %w", companyID, eventType, err)
	}
	return sum, nil
}

func appendUsageEvent(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, companyID string, eventType models.UsageEventType, quantity int64, fileSizeBytes *int64, metadata models.UsageEventMetadata) (int64, error) {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRow(ctx,
		`INSERT INTO usage_event (company_id, event_type, quantity, file_size_bytes, event_metadata_json)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		companyID, eventType, quantity, fileSizeBytes, metadataJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append usage event: %w", err)
	}
	return id, nil
}

func marshalMetadata(metadata models.UsageEventMetadata) ([]byte, error) {
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal usage event metadata: %w", err)
	}
	return b, nil
}
