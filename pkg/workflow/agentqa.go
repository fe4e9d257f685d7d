package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/models"
)

// AnswerPersister is the subset of pkg/answer.Service the Agent QA workflow
// needs: persisting the answer set the workflow itself produced.
type AnswerPersister interface {
	Persist(ctx context.Context, cellID, questionTypeID int64, answerSet models.AIAnswerSet, setAsCurrent bool) (models.AnswerSet, error)
}

// AgentQAWorkflow implements §4.6.4: unlike the QA worker's sync branch,
// this workflow owns the full answer-production-and-persistence lifecycle,
// because the QA worker already marked its qa_job COMPLETED before this
// runs asynchronously.
type AgentQAWorkflow struct {
	engine    *Engine
	pool      *pgxpool.Pool
	reader    cellstrategy.CellReader
	provider  aiprovider.Client
	persister AnswerPersister
}

// NewAgentQAWorkflow constructs an AgentQAWorkflow.
func NewAgentQAWorkflow(engine *Engine, pool *pgxpool.Pool, reader cellstrategy.CellReader, provider aiprovider.Client, persister AnswerPersister) *AgentQAWorkflow {
	return &AgentQAWorkflow{engine: engine, pool: pool, reader: reader, provider: provider, persister: persister}
}

// StartAgentQA implements pkg/qaworker.AgentQAStarter: it starts the
// workflow and returns as soon as it is durably recorded (USE_EXISTING),
// without waiting for it to finish — the rest runs in a new goroutine
// (run). Calling StartAgentQA again for the same job and cell resumes the
// same run, replaying the activities it already recorded.
func (w *AgentQAWorkflow) StartAgentQA(ctx context.Context, input AgentQAInput) error {
	workflowID := fmt.Sprintf("agent-qa-%d-%d", input.JobID, input.CellID)
	handle, err := w.engine.Start(ctx, workflowID, KindAgentQA, input)
	if err != nil {
		return err
	}

	go w.run(context.WithoutCancel(ctx), handle, input)
	return nil
}

func (w *AgentQAWorkflow) run(ctx context.Context, handle *Handle, input AgentQAInput) {
	answerSet, err := w.runSteps(ctx, handle, input)
	if err != nil {
		_ = handle.Fail(ctx, err.Error())
		_ = w.setCellStatus(ctx, input.CellID, models.CellStatusFailed)
		return
	}

	if _, err := w.persister.Persist(ctx, input.CellID, input.QuestionTypeID, answerSet, true); err != nil {
		_ = handle.Fail(ctx, fmt.Sprintf("persist answer set: %v", err))
		_ = w.setCellStatus(ctx, input.CellID, models.CellStatusFailed)
		return
	}
	if err := w.setCellStatus(ctx, input.CellID, models.CellStatusCompleted); err != nil {
		_ = handle.Fail(ctx, err.Error())
		return
	}
	_ = handle.Complete(ctx)
}

func (w *AgentQAWorkflow) runSteps(ctx context.Context, handle *Handle, input AgentQAInput) (models.AIAnswerSet, error) {
	docsRaw, err := handle.Activity(ctx, "load-documents", func(ctx context.Context) (json.RawMessage, error) {
		refs := make([]aiprovider.DocumentRef, 0, len(input.DocumentIDs))
		for _, docID := range input.DocumentIDs {
			doc, content, err := w.reader.LoadDocumentContent(ctx, docID, input.CompanyID)
			if err != nil {
				return nil, fmt.Errorf("load document %d: %w", docID, err)
			}
			refs = append(refs, aiprovider.DocumentRef{DocumentID: doc.ID, Content: content})
		}
		return json.Marshal(refs)
	})
	if err != nil {
		return models.AIAnswerSet{}, err
	}

	var docs []aiprovider.DocumentRef
	if err := json.Unmarshal(docsRaw, &docs); err != nil {
		return models.AIAnswerSet{}, fmt.Errorf("unmarshal loaded documents: %w", err)
	}

	answerRaw, err := handle.Activity(ctx, "answer", func(ctx context.Context) (json.RawMessage, error) {
		answerSet, err := w.provider.Answer(ctx, aiprovider.AnswerRequest{
			QuestionText:   input.QuestionText,
			QuestionTypeID: input.QuestionTypeID,
			Documents:      docs,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(answerSet)
	})
	if err != nil {
		return models.AIAnswerSet{}, err
	}

	var answerSet models.AIAnswerSet
	if err := json.Unmarshal(answerRaw, &answerSet); err != nil {
		return models.AIAnswerSet{}, fmt.Errorf("unmarshal answer set: %w", err)
	}
	return answerSet, nil
}

func (w *AgentQAWorkflow) setCellStatus(ctx context.Context, cellID int64, status models.CellStatus) error {
	_, err := w.pool.Exec(ctx, `UPDATE matrix_cell SET status = $1 WHERE id = $2`, status, cellID)
	if err != nil {
		return fmt.Errorf("set cell %d status %s: %w", cellID, status, err)
	}
	return nil
}
