// Package blobstore implements object storage for the engine (§6.2): raw
// uploaded documents, extracted markdown, and workflow execution outputs.
// Store is the interface every caller depends on; S3Store is the production
// backend and FakeStore is an in-memory double for tests.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Object describes one entry returned by ListObjects.
type Object struct {
	Key  string
	Size int64
}

// Store is the object storage contract of §6.2, translated into idiomatic
// Go error returns rather than the spec's bool/int returns: callers check
// err, not a boolean success flag.
type Store interface {
	// Upload writes r under key, with optional object metadata.
	Upload(ctx context.Context, key string, r io.Reader, metadata map[string]string) error
	// Download reads the full contents of key.
	Download(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// ListObjects lists up to limit objects under prefix.
	ListObjects(ctx context.Context, prefix string, limit int) ([]Object, error)
	// PresignedDownloadURL returns a time-limited URL for downloading key.
	PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PresignedUploadURL returns a time-limited URL a client can PUT to, to
	// upload key directly without proxying bytes through the engine.
	PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// DeletePrefix removes every object under prefix and returns the count
	// deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// DocumentKey is the storage key for an uploaded document (§6.2).
func DocumentKey(companyID, filename string) string {
	return fmt.Sprintf("documents/company_%s/%s", companyID, filename)
}

// ExtractedContentKey is the storage key for a document's combined
// extracted markdown (§6.2).
func ExtractedContentKey(companyID string, documentID int64) string {
	return fmt.Sprintf("company/%s/documents/%d/extracted.md", companyID, documentID)
}

// WorkflowExecutionPrefix is the root key prefix for one workflow
// execution's outputs and manifest (§6.2, §6.3).
func WorkflowExecutionPrefix(companyID, workflowID string, executionID int64) string {
	return fmt.Sprintf("companies/%s/workflows/%s/executions/%d", companyID, workflowID, executionID)
}

// WorkflowOutputKey is the storage key for one named output file of a
// workflow execution.
func WorkflowOutputKey(companyID, workflowID string, executionID int64, name string) string {
	return WorkflowExecutionPrefix(companyID, workflowID, executionID) + "/outputs/" + name
}

// WorkflowManifestKey is the storage key for a workflow execution's sibling
// `.manifest.json` (§6.3).
func WorkflowManifestKey(companyID, workflowID string, executionID int64) string {
	return WorkflowExecutionPrefix(companyID, workflowID, executionID) + "/.manifest.json"
}
