package fleet

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPProber checks reachability by hitting the facility's health endpoint.
// The probe deadline comes from the caller's context.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{}}
}

func (hp *HTTPProber) Probe(ctx context.Context, p *Printer) error {
	if p.Endpoint == "" {
		return fmt.Errorf("printer %s has no probe endpoint", p.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := hp.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	return nil
}
