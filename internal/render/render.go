// Package render holds the orchestrator's view of the document-rendering and
// object-storage collaborators. Both live outside this service; only their
// contracts are pinned here.
package render

import (
	"context"

	"github.com/fablepress/pressroom/internal/compliance"
)

// Renderer produces the print-ready document for a job, applying the
// requested ICC profile and emitting bleed and registration marks.
type Renderer interface {
	RenderPrintReadyDocument(ctx context.Context, pageImages [][]byte, spec compliance.QualitySpec) ([]byte, error)
}

// ObjectStore fetches source page images and stores the rendered artifact,
// returning a retrievable URL.
type ObjectStore interface {
	FetchPageImages(ctx context.Context, bookRef string) ([][]byte, error)
	StoreArtifact(ctx context.Context, jobID string, document []byte) (string, error)
}
