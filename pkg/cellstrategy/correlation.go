package cellstrategy

import (
	"context"
	"fmt"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/models"
)

// CorrelationStrategy implements the document×document correlation grid
// (§4.2.2): every new document is paired, both ways, with every other
// existing document under every question; every new question is paired
// with every ordered pair of existing documents.
type CorrelationStrategy struct {
	reader   CellReader
	provider AnswerProvider
	resolver TemplateResolver
}

// SpecsForNewEntity implements Strategy.
func (s *CorrelationStrategy) SpecsForNewEntity(state MatrixState, event NewEntityEvent) ([]models.CellSpec, error) {
	switch event.EntityType {
	case models.EntityTypeDocument:
		return s.specsForNewDocument(state, event.Member)
	case models.EntityTypeQuestion:
		return s.specsForNewQuestion(state, event.Member)
	default:
		return nil, fmt.Errorf("cellstrategy: unsupported entity type %s", event.EntityType)
	}
}

func (s *CorrelationStrategy) specsForNewDocument(state MatrixState, newDoc models.EntitySetMember) ([]models.CellSpec, error) {
	var specs []models.CellSpec
	for _, d := range state.Documents {
		if d.ID == newDoc.ID {
			continue
		}
		for _, q := range state.Questions {
			specs = append(specs, correlationCellSpec(newDoc, d, q))
			specs = append(specs, correlationCellSpec(d, newDoc, q))
		}
	}
	return specs, nil
}

func (s *CorrelationStrategy) specsForNewQuestion(state MatrixState, newQuestion models.EntitySetMember) ([]models.CellSpec, error) {
	var specs []models.CellSpec
	for _, di := range state.Documents {
		for _, dj := range state.Documents {
			if di.ID == dj.ID {
				continue
			}
			specs = append(specs, correlationCellSpec(di, dj, newQuestion))
		}
	}
	return specs, nil
}

func correlationCellSpec(left, right, question models.EntitySetMember) models.CellSpec {
	refs := []models.RefSpec{
		{Role: models.RoleLeft, EntitySetID: left.EntitySetID, EntitySetMemberID: left.ID, EntityOrder: 0},
		{Role: models.RoleRight, EntitySetID: right.EntitySetID, EntitySetMemberID: right.ID, EntityOrder: 1},
		{Role: models.RoleQuestion, EntitySetID: question.EntitySetID, EntitySetMemberID: question.ID, EntityOrder: 2},
	}
	return models.CellSpec{
		CellType:      models.CellTypeCorrelation,
		Refs:          refs,
		CellSignature: models.ComputeSignature(refs),
	}
}

// ProcessCellToCompletion implements Strategy: loads the cell's LEFT,
// RIGHT, and QUESTION refs, sends both documents to the provider together.
func (s *CorrelationStrategy) ProcessCellToCompletion(ctx context.Context, cellID int64, companyID string) (models.AIAnswerSet, int64, error) {
	refs, err := s.reader.LoadCellRefs(ctx, cellID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}

	var leftRef, rightRef, questionRef *models.CellEntityRef
	for i := range refs {
		switch refs[i].Role {
		case models.RoleLeft:
			leftRef = &refs[i]
		case models.RoleRight:
			rightRef = &refs[i]
		case models.RoleQuestion:
			questionRef = &refs[i]
		}
	}
	if leftRef == nil || rightRef == nil || questionRef == nil {
		return models.AIAnswerSet{}, 0, fmt.Errorf("cellstrategy: correlation cell %d missing LEFT, RIGHT, or QUESTION ref", cellID)
	}

	leftMember, err := s.reader.LoadEntitySetMember(ctx, leftRef.EntitySetMemberID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	rightMember, err := s.reader.LoadEntitySetMember(ctx, rightRef.EntitySetMemberID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	questionMember, err := s.reader.LoadEntitySetMember(ctx, questionRef.EntitySetMemberID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}

	_, leftContent, err := s.reader.LoadDocumentContent(ctx, leftMember.EntityID, companyID)
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	_, rightContent, err := s.reader.LoadDocumentContent(ctx, rightMember.EntityID, companyID)
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
		models.RoleLeft:  leftMember.EntityID,
		models.RoleRight: rightMember.EntityID,
	})
	if err != nil {
		return models.AIAnswerSet{}, 0, fmt.Errorf("resolve question template for cell %d: %w", cellID, err)
	}

	answerSet, err := s.provider.Answer(ctx, aiprovider.AnswerRequest{
		QuestionText:   questionText,
		QuestionTypeID: question.QuestionTypeID,
		Documents: []aiprovider.DocumentRef{
			{DocumentID: leftMember.EntityID, Content: leftContent},
			{DocumentID: rightMember.EntityID, Content: rightContent},
		},
	})
	if err != nil {
		return models.AIAnswerSet{}, 0, err
	}
	return answerSet, question.QuestionTypeID, nil
}
