//go:build cgo

// Package search's ONNX embedder requires CGO and the onnxruntime shared
// library, the same constraint the pack's sagasu embedder carries.
package search

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const vocabSize = 30000

// ONNXEmbedder produces sentence embeddings via a local ONNX model,
// grounded on the pack's sagasu ONNXEmbedder (pre-allocated tensors reused
// across calls, input_ids/attention_mask/token_type_ids in, one pooled
// output vector out).
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// NewONNXEmbedder loads modelPath and builds the fixed-shape session.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	ids, mask, types := tokenize("", maxTokens, vocabSize)
	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(maxTokens)), ids)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	attentionMask, err := ort.NewTensor(ort.NewShape(1, int64(maxTokens)), mask)
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	tokenTypeIDs, err := ort.NewTensor(ort.NewShape(1, int64(maxTokens)), types)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		tokenTypeIDs.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		tokenTypeIDs.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXEmbedder{
		session: session, dimensions: dimensions, maxTokens: maxTokens,
		inputIDs: inputIDs, attentionMask: attentionMask, tokenTypeIDs: tokenTypeIDs, output: output,
	}, nil
}

func (e *ONNXEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, types := tokenize(text, e.maxTokens, vocabSize)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.output.GetData())
	normalizeL2(embedding)
	return embedding, nil
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	err := e.session.Destroy()
	e.inputIDs.Destroy()
	e.attentionMask.Destroy()
	e.tokenTypeIDs.Destroy()
	e.output.Destroy()
	return err
}
