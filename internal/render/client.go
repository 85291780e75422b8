package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fablepress/pressroom/internal/compliance"
)

// HTTPRenderer calls the rendering service over HTTP. Page images travel
// base64-encoded in the request body; the response body is the finished
// document.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPRenderer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	Pages []string               `json:"pages"`
	Spec  compliance.QualitySpec `json:"quality_spec"`
}

func (r *HTTPRenderer) RenderPrintReadyDocument(ctx context.Context, pageImages [][]byte, spec compliance.QualitySpec) ([]byte, error) {
	pages := make([]string, len(pageImages))
	for i, img := range pageImages {
		pages[i] = base64.StdEncoding.EncodeToString(img)
	}

	body, err := json.Marshal(renderRequest{Pages: pages, Spec: spec})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, string(msg))
	}

	document, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered document: %w", err)
	}

	return document, nil
}

// FileStore is a filesystem-backed ObjectStore for single-node deployments.
// Page images live under <root>/books/<bookRef>/, artifacts are written to
// <root>/artifacts/.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{filepath.Join(root, "books"), filepath.Join(root, "artifacts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) FetchPageImages(_ context.Context, bookRef string) ([][]byte, error) {
	dir := filepath.Join(s.root, "books", filepath.Base(bookRef))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list page images for %s: %w", bookRef, err)
	}

	pages := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read page image %s: %w", entry.Name(), err)
		}
		pages = append(pages, data)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images found for book %s", bookRef)
	}

	return pages, nil
}

func (s *FileStore) StoreArtifact(_ context.Context, jobID string, document []byte) (string, error) {
	name := filepath.Base(jobID) + ".pdf"
	path := filepath.Join(s.root, "artifacts", name)

	if err := os.WriteFile(path, document, 0o644); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}
