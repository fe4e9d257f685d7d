package cellstrategy

import (
	"context"
	"fmt"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/models"
)

// StandardStrategy implements the plain document×question grid (§4.2.1).
type StandardStrategy struct {
	reader   CellReader
	provider AnswerProvider
	resolver TemplateResolver
}

// SpecsForNewEntity implements Strategy.
func (s *StandardStrategy) SpecsForNewEntity(state MatrixState, event NewEntityEvent) ([]models.CellSpec, error) {
	var specs []models.CellSpec

	switch event.EntityType {
	case models.EntityTypeDocument:
		for _, q := range state.Questions {
			specs = append(specs, standardCellSpec(event.Member, q))
		}
	case models.EntityTypeQuestion:
		for _, d := range state.Documents {
			specs = append(specs, standardCellSpec(d, event.Member))
		}
	default:
		return nil, fmt.Errorf("cellstrategy: unsupported entity type %s", event.EntityType)
	}

	return specs, nil
}

func standardCellSpec(document, question models.EntitySetMember) models.CellSpec {
	refs := []models.RefSpec{
		{Role: models.RoleDocument, EntitySetID: document.EntitySetID, EntitySetMemberID: document.ID, EntityOrder: 0},
		{Role: models.RoleQuestion, EntitySetID: question.EntitySetID, EntitySetMemberID: question.ID, EntityOrder: 1},
	}
	return models.CellSpec{
		CellType:      models.CellTypeStandard,
		Refs:          refs,
		CellSignature: models.ComputeSignature(refs),
	}
}

// ProcessCellToCompletion implements Strategy: loads the cell's one
// document and one question ref, builds the AI request, and returns the
// provider's answer set.
func (s *StandardStrategy) ProcessCellToCompletion(ctx context.Context, cellID int64, companyID string) (models.AIAnswerSet, int64, error) {
	refs, err := s.reader.LoadCellRefs(ctx, cellID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}

	var documentRef, questionRef *models.CellEntityRef
	for i := range refs {
		switch refs[i].Role {
		case models.RoleDocument:
			documentRef = &refs[i]
		case models.RoleQuestion:
			questionRef = &refs[i]
		}
	}
	if documentRef == nil || questionRef == nil {
		return models.AIAnswerSet{}, 0, fmt.Errorf("cellstrategy: standard cell %d missing DOCUMENT or QUESTION ref", cellID)
	}

	documentMember, err := s.reader.LoadEntitySetMember(ctx, documentRef.EntitySetMemberID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	questionMember, err := s.reader.LoadEntitySetMember(ctx, questionRef.EntitySetMemberID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}

	_, content, err := s.reader.LoadDocumentContent(ctx, documentMember.EntityID, companyID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	question, err := s.reader.LoadQuestion(ctx, questionMember.EntityID, companyID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}

	var matrixID int64
	if s.resolver != nil {
		cell, err := s.reader.LoadCell(ctx, cellID)
		if err != nil {
			return models.AIAnswerSet{}, 0, err
		}
		matrixID = cell.MatrixID
	}
	questionText, err := resolveQuestionText(ctx, s.resolver, matrixID, question.Text, map[models.Role]int64{
		models.RoleDocument: documentMember.EntityID,
	})
	if err != nil {
		return models.AIAnswerSet{}, 0, fmt.Errorf("resolve question template for cell %d: %w", cellID, err)
	}

	answerSet, err := s.provider.Answer(ctx, aiprovider.AnswerRequest{
		QuestionText:   questionText,
		QuestionTypeID: question.QuestionTypeID,
		Documents:      []aiprovider.DocumentRef{{DocumentID: documentMember.EntityID, Content: content}},
	})
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	return answerSet, question.QuestionTypeID, nil
}
