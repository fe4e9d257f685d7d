package cellstrategy

import (
	"context"
	"fmt"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/models"
)

type fakeReader struct {
	cells       map[int64]models.MatrixCell
	refs        map[int64][]models.CellEntityRef
	members     map[int64]models.EntitySetMember
	documents   map[int64]models.Document
	content     map[int64]string
	questions   map[int64]models.Question
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		cells:     make(map[int64]models.MatrixCell),
		refs:      make(map[int64][]models.CellEntityRef),
		members:   make(map[int64]models.EntitySetMember),
		documents: make(map[int64]models.Document),
		content:   make(map[int64]string),
		questions: make(map[int64]models.Question),
	}
}

func (f *fakeReader) LoadCell(_ context.Context, cellID int64) (models.MatrixCell, error) {
	cell, ok := f.cells[cellID]
	if !ok {
		return models.MatrixCell{}, fmt.Errorf("fake: cell %d not found", cellID)
	}
	return cell, nil
}

func (f *fakeReader) LoadCellRefs(_ context.Context, cellID int64) ([]models.CellEntityRef, error) {
	return f.refs[cellID], nil
}

func (f *fakeReader) LoadEntitySetMember(_ context.Context, id int64) (models.EntitySetMember, error) {
	m, ok := f.members[id]
	if !ok {
		return models.EntitySetMember{}, fmt.Errorf("fake: member %d not found", id)
	}
	return m, nil
}

func (f *fakeReader) LoadDocumentContent(_ context.Context, documentID int64, _ string) (models.Document, string, error) {
	doc, ok := f.documents[documentID]
	if !ok {
		return models.Document{}, "", fmt.Errorf("fake: document %d not found", documentID)
	}
	return doc, f.content[documentID], nil
}

func (f *fakeReader) LoadQuestion(_ context.Context, questionID int64, _ string) (models.Question, error) {
	q, ok := f.questions[questionID]
	if !ok {
		return models.Question{}, fmt.Errorf("fake: question %d not found", questionID)
	}
	return q, nil
}

type fakeProvider struct {
	answerSet models.AIAnswerSet
	err       error
	lastReq   aiprovider.AnswerRequest
}

func (f *fakeProvider) Answer(_ context.Context, req aiprovider.AnswerRequest) (models.AIAnswerSet, error) {
	f.lastReq = req
	return f.answerSet, f.err
}
