//go:build !cgo

package search

import "errors"

// ONNXEmbedder stub for builds without CGO; see onnx.go for the real
// implementation.
type ONNXEmbedder struct{}

// NewONNXEmbedder fails fast when CGO/onnxruntime are unavailable.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errors.New("onnx embedder requires cgo and the onnxruntime shared library")
}
