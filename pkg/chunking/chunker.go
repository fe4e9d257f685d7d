// Package chunking splits extracted document content into ordered chunks
// and indexes them into keyword and vector search (spec §4.6.2, §4.6.3).
package chunking

import (
	"context"
	"regexp"
	"strings"

	"github.com/matrixqa/engine/pkg/models"
)

// sentencesPerChunk groups this many sentences into one SENTENCE-strategy
// chunk; agenticSentencesPerChunk uses a wider window to approximate the
// coarser, topic-aware grouping an agentic chunker would produce.
const (
	sentencesPerChunk        = 5
	agenticSentencesPerChunk = 12
)

var sentenceSplit = regexp.MustCompile(`(?s)[^.!?]+[.!?]*`)

// Chunker implements workflow.Chunker with a deterministic sentence-window
// splitter. AGENTIC selection widens the window rather than invoking an
// external model — this engine has no agentic chunking provider wired.
type Chunker struct{}

// New constructs a Chunker.
func New() *Chunker {
	return &Chunker{}
}

// Chunk implements workflow.Chunker.
func (c *Chunker) Chunk(_ context.Context, doc models.Document, content string, strategy models.ChunkingStrategy) ([]models.Chunk, error) {
	window := sentencesPerChunk
	if strategy == models.ChunkingStrategyAgentic {
		window = agenticSentencesPerChunk
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []models.Chunk
	for start := 0; start < len(sentences); start += window {
		end := start + window
		if end > len(sentences) {
			end = len(sentences)
		}
		text := strings.TrimSpace(strings.Join(sentences[start:end], " "))
		if text == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: doc.ID,
			CompanyID:  doc.CompanyID,
			Ordinal:    len(chunks),
			Content:    text,
			Metadata: map[string]string{
				"strategy": string(strategy),
			},
		})
	}
	return chunks, nil
}

func splitSentences(content string) []string {
	matches := sentenceSplit.FindAllString(content, -1)
	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
