package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/blobstore"
	"github.com/matrixqa/engine/pkg/dedup"
	"github.com/matrixqa/engine/pkg/reprocess"
	"github.com/matrixqa/engine/pkg/search"
	"github.com/matrixqa/engine/pkg/template"
	"github.com/matrixqa/engine/pkg/workflow"
)

// server bundles the components the HTTP surface calls into.
type server struct {
	pool              *pgxpool.Pool
	store             *blobstore.S3Store
	dedup             *dedup.Service
	docExtraction     *workflow.DocumentExtractionWorkflow
	workflowExecution *workflow.WorkflowExecutionWorkflow
	hybridIndex       *search.HybridIndex
	templateSync      *template.SyncService
	reprocess         *reprocess.Service
}

func (s *server) registerRoutes(router *gin.Engine) {
	router.GET("/health", healthHandler(s.pool))
	router.POST("/documents", s.uploadDocument)
	router.GET("/search", s.search)
	router.POST("/workflow-executions", s.startWorkflowExecution)
	router.PATCH("/questions/:id/text", s.updateQuestionText)
	router.POST("/matrices/:id/reprocess", s.reprocessMatrix)
}

// uploadDocument implements §4.6.1 step 0 and §4.12's dedup upload path:
// stream-hash the uploaded bytes, short-circuit on a byte-identical
// existing document, and otherwise store+create before running extraction
// synchronously.
func (s *server) uploadDocument(c *gin.Context) {
	companyID := c.PostForm("company_id")
	if companyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx := c.Request.Context()
	doc, isDuplicate, err := s.dedup.Upload(ctx, companyID, fileHeader.Filename, contentType, int64(len(content)),
		bytes.NewReader(content), c.PostForm("use_agentic_chunking") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("upload document: %v", err)})
		return
	}
	if isDuplicate {
		c.JSON(http.StatusOK, gin.H{"document_id": doc.ID, "is_duplicate": true})
		return
	}

	if err := s.docExtraction.Start(ctx, workflow.DocumentExtractionInput{DocumentID: doc.ID, CompanyID: companyID}); err != nil {
		c.JSON(http.StatusAccepted, gin.H{"document_id": doc.ID, "extraction_error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"document_id": doc.ID})
}

// search implements §4.9: hybrid keyword+vector retrieval.
func (s *server) search(c *gin.Context) {
	if s.hybridIndex == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hybrid search unavailable: embedding model not loaded"})
		return
	}

	companyID := c.Query("company_id")
	query := c.Query("q")
	if companyID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id and q are required"})
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	results, err := s.hybridIndex.Search(c.Request.Context(), companyID, query, nil, skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// updateQuestionText implements §4.10's update path: persist the new text,
// then resync its question_template_variable associations against the
// `#{{id}}` placeholders the new text carries.
func (s *server) updateQuestionText(c *gin.Context) {
	questionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question id"})
		return
	}

	var body struct {
		MatrixID int64  `json:"matrix_id"`
		Text     string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Text == "" || body.MatrixID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "matrix_id and text are required"})
		return
	}

	ctx := c.Request.Context()
	tag, err := s.pool.Exec(ctx, `UPDATE question SET text = $1 WHERE id = $2 AND NOT deleted`, body.Text, questionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("update question text: %v", err)})
		return
	}
	if tag.RowsAffected() == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	}

	if err := s.templateSync.SyncQuestionTemplateVariables(ctx, questionID, body.MatrixID, body.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("sync template variables: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"question_id": questionID})
}

// reprocessMatrix implements §4.11: select a matrix's cells per the
// request body's filter and re-queue a fresh qa_job for each.
func (s *server) reprocessMatrix(c *gin.Context) {
	matrixID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid matrix id"})
		return
	}

	var body struct {
		WholeMatrix      bool                       `json:"whole_matrix"`
		CellIDs          []int64                    `json:"cell_ids"`
		EntitySetFilters []reprocess.EntitySetFilter `json:"entity_set_filters"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.reprocess.Reprocess(c.Request.Context(), matrixID, reprocess.Selection{
		WholeMatrix:      body.WholeMatrix,
		CellIDs:          body.CellIDs,
		EntitySetFilters: body.EntitySetFilters,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"matched_cells": result.MatchedCells, "jobs_queued": len(result.Jobs)})
}

// startWorkflowExecution implements §4.6.5's entry point: create the
// execution row QUEUED, then run the workflow in the background — the
// workflow itself records its own outcome on the row, so the request
// doesn't wait on it.
func (s *server) startWorkflowExecution(c *gin.Context) {
	var body struct {
		CompanyID string `json:"company_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.CompanyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company_id is required"})
		return
	}

	var executionID int64
	err := s.pool.QueryRow(c.Request.Context(),
		`INSERT INTO workflow_execution (company_id, status) VALUES ($1, 'QUEUED') RETURNING id`,
		body.CompanyID,
	).Scan(&executionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("create workflow execution: %v", err)})
		return
	}

	go func() {
		_ = s.workflowExecution.Start(context.Background(), workflow.WorkflowExecutionInput{ExecutionID: executionID})
	}()

	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}
