// Package cellstrategy implements the Standard and Cross-Correlation cell
// generation strategies (spec §4.2) and the per-strategy "answer this cell"
// step the QA worker calls into (§4.5 step 6).
package cellstrategy

import (
	"context"
	"fmt"

	"github.com/matrixqa/engine/pkg/models"
)

// MatrixState is the slice of matrix state a strategy needs to compute cell
// specs for a newly added entity: the current non-deleted members of the
// matrix's document and question entity sets.
type MatrixState struct {
	DocumentSetID int64
	QuestionSetID int64
	Documents     []models.EntitySetMember
	Questions     []models.EntitySetMember
}

// NewEntityEvent describes the entity that was just added to a set.
type NewEntityEvent struct {
	EntitySetID int64
	EntityType  models.EntityType
	Member      models.EntitySetMember
}

// Strategy is a cell generation and completion policy, selected by
// matrix_type (§9 "tagged variant ... behind a narrow interface").
type Strategy interface {
	// SpecsForNewEntity is a pure function of (state, event) -> cell specs.
	// It assigns CellSignature via models.ComputeSignature; the caller
	// (pkg/batch) is responsible for deduplicating against existing
	// signatures and persisting.
	SpecsForNewEntity(state MatrixState, event NewEntityEvent) ([]models.CellSpec, error)

	// ProcessCellToCompletion loads cellID's refs, builds the AI request,
	// calls the provider, and returns the resulting answer set together
	// with the question_type_id the answer set was produced for.
	ProcessCellToCompletion(ctx context.Context, cellID int64, companyID string) (models.AIAnswerSet, int64, error)
}

// TemplateResolver expands a question's `#{{id}}` and `@{{ROLE}}`
// placeholders (§4.10) before it's sent to the AI provider. Narrowed from
// *template.Resolver so cellstrategy never imports pkg/template directly.
// Nil-safe: Select accepts nil when no matrix in play ever uses templates.
type TemplateResolver interface {
	Resolve(ctx context.Context, matrixID int64, text string, refsByRole map[models.Role]int64) (string, error)
}

// ErrUnsupportedMatrixType is returned by Select for an unrecognized
// matrix_type.
var ErrUnsupportedMatrixType = fmt.Errorf("cellstrategy: unsupported matrix type")

// Select returns the strategy for matrixType. resolver may be nil, in which
// case question text is sent to the provider unresolved.
func Select(matrixType models.MatrixType, reader CellReader, provider AnswerProvider, resolver TemplateResolver) (Strategy, error) {
	switch matrixType {
	case models.MatrixTypeStandard:
		return &StandardStrategy{reader: reader, provider: provider, resolver: resolver}, nil
	case models.MatrixTypeCorrelation:
		return &CorrelationStrategy{reader: reader, provider: provider, resolver: resolver}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMatrixType, matrixType)
	}
}

// resolveQuestionText runs text through resolver when one is configured,
// passing it back unchanged otherwise.
func resolveQuestionText(ctx context.Context, resolver TemplateResolver, matrixID int64, text string, refsByRole map[models.Role]int64) (string, error) {
	if resolver == nil {
		return text, nil
	}
	return resolver.Resolve(ctx, matrixID, text, refsByRole)
}
