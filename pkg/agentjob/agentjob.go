// Package agentjob launches, polls, and tears down the external code/agent
// jobs the Workflow Execution Workflow drives (spec §4.6.5), and reads the
// `.manifest.json` each job writes to object storage on completion.
package agentjob

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matrixqa/engine/pkg/blobstore"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/workflow"
)

// workflowKind names the durable workflow this package's jobs belong to,
// for the storage prefix blobstore.WorkflowExecutionPrefix expects.
const workflowKind = "workflow-execution"

const (
	launchMethod  = "/matrixqa.agentjob.v1.AgentJob/Launch"
	pollMethod    = "/matrixqa.agentjob.v1.AgentJob/Poll"
	cleanupMethod = "/matrixqa.agentjob.v1.AgentJob/Cleanup"
)

// encodeJobID packs everything downstream activities need without a second
// database round trip: the external runtime's own job handle, plus the
// tenant and execution id that locate the manifest in object storage.
func encodeJobID(companyID string, executionID int64, externalJobID string) string {
	return fmt.Sprintf("%s:%d:%s", companyID, executionID, externalJobID)
}

func decodeJobID(agentJobID string) (companyID string, executionID int64, externalJobID string, err error) {
	parts := strings.SplitN(agentJobID, ":", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("agentjob: malformed job id %q", agentJobID)
	}
	executionID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("agentjob: malformed execution id in job id %q: %w", agentJobID, err)
	}
	return parts[0], executionID, parts[2], nil
}

// GRPCRunner implements workflow.AgentJobLauncher, workflow.AgentJobPoller,
// and workflow.AgentJobCleaner by calling an external job-runner service
// over gRPC, mirroring pkg/aiprovider's Struct-request/Struct-response
// client so neither side needs a shared .proto build.
type GRPCRunner struct {
	conn *grpc.ClientConn
}

// NewGRPCRunner dials addr using insecure (plaintext) transport — the job
// runner is expected to run on a trusted network segment, same as the AI
// provider.
func NewGRPCRunner(addr string) (*GRPCRunner, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent job runner client for %s: %w", addr, err)
	}
	return &GRPCRunner{conn: conn}, nil
}

// Close releases the gRPC connection.
func (r *GRPCRunner) Close() error {
	return r.conn.Close()
}

// Launch implements workflow.AgentJobLauncher.
func (r *GRPCRunner) Launch(ctx context.Context, execution models.WorkflowExecution) (string, error) {
	outputPrefix := blobstore.WorkflowExecutionPrefix(execution.CompanyID, workflowKind, execution.ID)
	req, err := structpb.NewStruct(map[string]any{
		"execution_id":  float64(execution.ID),
		"company_id":    execution.CompanyID,
		"output_prefix": outputPrefix,
	})
	if err != nil {
		return "", fmt.Errorf("encode launch request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, launchMethod, req, resp); err != nil {
		return "", fmt.Errorf("launch agent job for execution %d: %w", execution.ID, err)
	}

	externalJobID, ok := resp.AsMap()["job_id"].(string)
	if !ok || externalJobID == "" {
		return "", fmt.Errorf("agent job runner returned no job_id for execution %d", execution.ID)
	}
	return encodeJobID(execution.CompanyID, execution.ID, externalJobID), nil
}

// Poll implements workflow.AgentJobPoller.
func (r *GRPCRunner) Poll(ctx context.Context, agentJobID string) (workflow.AgentJobStatus, error) {
	_, _, externalJobID, err := decodeJobID(agentJobID)
	if err != nil {
		return "", err
	}

	req, err := structpb.NewStruct(map[string]any{"job_id": externalJobID})
	if err != nil {
		return "", fmt.Errorf("encode poll request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, pollMethod, req, resp); err != nil {
		return "", fmt.Errorf("poll agent job %s: %w", externalJobID, err)
	}

	status, _ := resp.AsMap()["status"].(string)
	switch status {
	case string(workflow.AgentJobStatusRunning), string(workflow.AgentJobStatusSucceeded), string(workflow.AgentJobStatusFailed):
		return workflow.AgentJobStatus(status), nil
	default:
		return "", fmt.Errorf("agent job %s reported unknown status %q", externalJobID, status)
	}
}

// Cleanup implements workflow.AgentJobCleaner.
func (r *GRPCRunner) Cleanup(ctx context.Context, agentJobID string) error {
	_, _, externalJobID, err := decodeJobID(agentJobID)
	if err != nil {
		return err
	}

	req, err := structpb.NewStruct(map[string]any{"job_id": externalJobID})
	if err != nil {
		return fmt.Errorf("encode cleanup request: %w", err)
	}
	if err := r.conn.Invoke(ctx, cleanupMethod, req, &structpb.Struct{}); err != nil {
		return fmt.Errorf("cleanup agent job %s: %w", externalJobID, err)
	}
	return nil
}

// Downloader is the subset of pkg/blobstore.Store a ManifestReader needs.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// ManifestReader implements workflow.ManifestReader against object storage.
type ManifestReader struct {
	store Downloader
}

// NewManifestReader constructs a ManifestReader backed by store.
func NewManifestReader(store Downloader) *ManifestReader {
	return &ManifestReader{store: store}
}

// ReadManifest implements workflow.ManifestReader.
func (m *ManifestReader) ReadManifest(ctx context.Context, agentJobID string) (models.ExecutionManifest, error) {
	companyID, executionID, _, err := decodeJobID(agentJobID)
	if err != nil {
		return models.ExecutionManifest{}, err
	}

	key := blobstore.WorkflowManifestKey(companyID, workflowKind, executionID)
	raw, err := m.store.Download(ctx, key)
	if err != nil {
		return models.ExecutionManifest{}, fmt.Errorf("download manifest %s: %w", key, err)
	}

	var manifest models.ExecutionManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return models.ExecutionManifest{}, fmt.Errorf("manifest %s is not valid: %w", key, err)
	}
	return manifest, nil
}
