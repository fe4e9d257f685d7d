// Package extraction turns a stored document's bytes into per-page
// markdown text for the document extraction workflow (spec §4.6.1).
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/matrixqa/engine/pkg/models"
)

// Downloader is the subset of pkg/blobstore.Store this package needs to
// fetch a document's raw bytes.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Extractor implements workflow.Extractor against object storage, routing
// by content type.
type Extractor struct {
	store Downloader
}

// New constructs an Extractor backed by store.
func New(store Downloader) *Extractor {
	return &Extractor{store: store}
}

// Extract implements workflow.Extractor. Pages are returned in order; a
// blank page is an empty string, not an omitted one.
func (e *Extractor) Extract(ctx context.Context, doc models.Document) ([]string, error) {
	raw, err := e.store.Download(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("download document %d content: %w", doc.ID, err)
	}

	switch doc.ContentType {
	case "application/pdf":
		return extractPDFPages(raw)
	case "text/plain", "text/markdown":
		return []string{string(raw)}, nil
	default:
		return nil, fmt.Errorf("extraction: unsupported content type %q", doc.ContentType)
	}
}

// extractPDFPages returns one string per PDF page, preserving blank pages.
func extractPDFPages(content []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := r.NumPage()
	pages := make([]string, numPages)
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			pages[i] = ""
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		pages[i] = strings.TrimRight(text, "\n")
	}
	return pages, nil
}
