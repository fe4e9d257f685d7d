// Package qaworker implements the QA worker state machine (spec §4.5): it
// consumes qa_worker queue messages, serializes per-cell execution with a
// distributed lock, and either answers a cell synchronously or hands it off
// to the Agent QA workflow.
package qaworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/lock"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/workflow"
)

// cellLockTTL bounds how long one worker may hold a cell's lock. It must
// comfortably exceed a synchronous ProcessCellToCompletion call; the agent
// branch releases its lock immediately since the workflow it hands off to
// manages its own completion.
const cellLockTTL = 300 * time.Second

// AgentQAStarter is the subset of *workflow.AgentQAWorkflow the worker
// needs: hand off a cell to the asynchronous Agent QA workflow and return
// as soon as the handoff is durably recorded.
type AgentQAStarter interface {
	StartAgentQA(ctx context.Context, input workflow.AgentQAInput) error
}

// AnswerPersister is the subset of *answer.Service the worker's synchronous
// branch needs.
type AnswerPersister interface {
	Persist(ctx context.Context, cellID, questionTypeID int64, answerSet models.AIAnswerSet, setAsCurrent bool) (models.AnswerSet, error)
}

// Worker processes one qa_worker delivery at a time against a shared
// Postgres pool, cell-level distributed lock, and cell strategy.
type Worker struct {
	pool      *pgxpool.Pool
	locker    lock.Locker
	reader    cellstrategy.CellReader
	provider  cellstrategy.AnswerProvider
	agentQA   AgentQAStarter
	persister AnswerPersister
	resolver  cellstrategy.TemplateResolver
}

// NewWorker constructs a Worker. resolver may be nil, in which case question
// text reaches the provider unresolved.
func NewWorker(pool *pgxpool.Pool, locker lock.Locker, reader cellstrategy.CellReader, provider cellstrategy.AnswerProvider, agentQA AgentQAStarter, persister AnswerPersister, resolver cellstrategy.TemplateResolver) *Worker {
	return &Worker{pool: pool, locker: locker, reader: reader, provider: provider, agentQA: agentQA, persister: persister, resolver: resolver}
}

// Pool runs count Workers concurrently, each consuming broker.QueueQAWorker
// until ctx is cancelled or one of them returns a non-transient error.
type Pool struct {
	worker   *Worker
	consumer broker.Consumer
	count    int
}

// NewPool constructs a Pool of count concurrent consumers.
func NewPool(worker *Worker, consumer broker.Consumer, count int) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{worker: worker, consumer: consumer, count: count}
}

// Run blocks, fanning out count concurrent Consume loops, until ctx is
// cancelled or any loop returns an error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.count; i++ {
		g.Go(func() error {
			return p.consumer.Consume(ctx, broker.QueueQAWorker, func(d broker.Delivery) error {
				return p.worker.handle(ctx, d)
			})
		})
	}
	return g.Wait()
}

// handle processes one qa_worker delivery end to end. A body that does not
// decode is nacked without requeue; every other delivery is acked —
// messages may be redelivered after a crash, but a message this worker
// successfully classified (even as "skip, already being handled elsewhere")
// is never nacked back onto the queue.
func (w *Worker) handle(ctx context.Context, d broker.Delivery) error {
	var msg models.QAJobMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("qaworker: malformed message, routing to dlq", "error", err)
		return d.Nack(false)
	}

	if err := w.process(ctx, msg); err != nil {
		slog.Error("qaworker: processing failed", "job_id", msg.JobID, "matrix_cell_id", msg.MatrixCellID, "error", err)
	}
	return d.Ack()
}

func (w *Worker) process(ctx context.Context, msg models.QAJobMessage) error {
	resourceKey := fmt.Sprintf("matrix_cell:%d", msg.MatrixCellID)
	token, ok, err := w.locker.Acquire(ctx, resourceKey, cellLockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for cell %d: %w", msg.MatrixCellID, err)
	}
	if !ok {
		return w.completeJob(ctx, msg.JobID, "Cell being processed by another worker")
	}
	defer func() {
		if _, err := w.locker.Release(ctx, resourceKey, token); err != nil {
			slog.Warn("qaworker: release lock failed, will expire on TTL", "resource_key", resourceKey, "error", err)
		}
	}()

	cell, err := w.reader.LoadCell(ctx, msg.MatrixCellID)
	if errors.Is(err, pgx.ErrNoRows) {
		return w.failJob(ctx, msg.JobID, fmt.Sprintf("cell %d not found", msg.MatrixCellID))
	}
	if err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}
	if cell.Status == models.CellStatusCompleted {
		return w.completeJob(ctx, msg.JobID, "Cell already completed")
	}

	matrixType, err := w.loadMatrixType(ctx, cell.MatrixID)
	if err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}

	strategy, err := cellstrategy.Select(matrixType, w.reader, w.provider, w.resolver)
	if err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}

	question, documentIDs, refsByRole, err := w.loadQuestionAndDocuments(ctx, cell)
	if err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}

	if err := w.markCellProcessing(ctx, cell.ID); err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}

	if question.UseAgentQA {
		questionText := question.Text
		if w.resolver != nil {
			resolved, err := w.resolver.Resolve(ctx, cell.MatrixID, question.Text, refsByRole)
			if err != nil {
				return w.failJob(ctx, msg.JobID, fmt.Sprintf("resolve question template: %v", err))
			}
			questionText = resolved
		}
		input := workflow.AgentQAInput{
			JobID:          msg.JobID,
			CellID:         cell.ID,
			DocumentIDs:    documentIDs,
			QuestionText:   questionText,
			MatrixType:     matrixType,
			QuestionTypeID: question.QuestionTypeID,
			QuestionID:     question.ID,
			CompanyID:      cell.CompanyID,
			MinAnswers:     1,
			MaxAnswers:     1,
		}
		if err := w.agentQA.StartAgentQA(ctx, input); err != nil {
			return w.failJob(ctx, msg.JobID, fmt.Sprintf("start agent qa: %v", err))
		}
		// The workflow owns answering and cell completion from here; the
		// worker's job is done as soon as the handoff is durable (§4.6.4).
		return w.completeJob(ctx, msg.JobID, "")
	}

	answerSet, questionTypeID, err := strategy.ProcessCellToCompletion(ctx, cell.ID, cell.CompanyID)
	if err != nil {
		_ = w.markCellFailed(ctx, cell.ID)
		return w.failJob(ctx, msg.JobID, err.Error())
	}

	if _, err := w.persister.Persist(ctx, cell.ID, questionTypeID, answerSet, true); err != nil {
		_ = w.markCellFailed(ctx, cell.ID)
		return w.failJob(ctx, msg.JobID, fmt.Sprintf("persist answer set: %v", err))
	}

	if err := w.markCellCompleted(ctx, cell.ID); err != nil {
		return w.failJob(ctx, msg.JobID, err.Error())
	}
	return w.completeJob(ctx, msg.JobID, "")
}

// loadQuestionAndDocuments resolves the cell's question and the entity ids
// of every DOCUMENT/LEFT/RIGHT ref, for handoff to the Agent QA workflow.
// Strategy-specific document selection for the synchronous branch still
// happens inside ProcessCellToCompletion.
func (w *Worker) loadQuestionAndDocuments(ctx context.Context, cell models.MatrixCell) (models.Question, []int64, map[models.Role]int64, error) {
	refs, err := w.reader.LoadCellRefs(ctx, cell.ID)
	if err != nil {
		return models.Question{}, nil, nil, err
	}

	var questionEntityID int64
	var documentIDs []int64
	refsByRole := make(map[models.Role]int64)
	for _, ref := range refs {
		member, err := w.reader.LoadEntitySetMember(ctx, ref.EntitySetMemberID)
		if err != nil {
			return models.Question{}, nil, nil, err
		}
		switch ref.Role {
		case models.RoleQuestion:
			questionEntityID = member.EntityID
		case models.RoleDocument, models.RoleLeft, models.RoleRight:
			documentIDs = append(documentIDs, member.EntityID)
			refsByRole[ref.Role] = member.EntityID
		}
	}
	if questionEntityID == 0 {
		return models.Question{}, nil, nil, fmt.Errorf("cell %d has no QUESTION ref", cell.ID)
	}

	question, err := w.reader.LoadQuestion(ctx, questionEntityID, cell.CompanyID)
	if err != nil {
		return models.Question{}, nil, nil, err
	}
	return question, documentIDs, refsByRole, nil
}

func (w *Worker) loadMatrixType(ctx context.Context, matrixID int64) (models.MatrixType, error) {
	var matrixType models.MatrixType
	err := w.pool.QueryRow(ctx, `SELECT matrix_type FROM matrix WHERE id = $1`, matrixID).Scan(&matrixType)
	if err != nil {
		return "", fmt.Errorf("load matrix type for matrix %d: %w", matrixID, err)
	}
	return matrixType, nil
}

func (w *Worker) markCellProcessing(ctx context.Context, cellID int64) error {
	return w.setCellStatus(ctx, cellID, models.CellStatusProcessing)
}

func (w *Worker) markCellCompleted(ctx context.Context, cellID int64) error {
	return w.setCellStatus(ctx, cellID, models.CellStatusCompleted)
}

func (w *Worker) markCellFailed(ctx context.Context, cellID int64) error {
	return w.setCellStatus(ctx, cellID, models.CellStatusFailed)
}

func (w *Worker) setCellStatus(ctx context.Context, cellID int64, status models.CellStatus) error {
	_, err := w.pool.Exec(ctx, `UPDATE matrix_cell SET status = $1 WHERE id = $2`, status, cellID)
	if err != nil {
		return fmt.Errorf("set cell %d status %s: %w", cellID, status, err)
	}
	return nil
}

func (w *Worker) completeJob(ctx context.Context, jobID int64, note string) error {
	return w.setJobStatus(ctx, jobID, models.QAJobStatusCompleted, note)
}

func (w *Worker) failJob(ctx context.Context, jobID int64, note string) error {
	return w.setJobStatus(ctx, jobID, models.QAJobStatusFailed, note)
}

func (w *Worker) setJobStatus(ctx context.Context, jobID int64, status models.QAJobStatus, note string) error {
	var errMsg *string
	if note != "" {
		errMsg = &note
	}
	_, err := w.pool.Exec(ctx,
		`UPDATE qa_job SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		status, errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("set qa_job %d status %s: %w", jobID, status, err)
	}
	return nil
}
