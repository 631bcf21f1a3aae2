package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

type httpProber struct {
	target string
	client *http.Client
}

func newHTTPProber(target string, client *http.Client) *httpProber {
	return &httpProber{target: target, client: client}
}

// Probe issues a single GET against the target. Every 2xx status passes;
// anything else fails with the status line, and transport errors fail with
// their own text. There are no retries: the next tick is the retry policy.
func (p *httpProber) Probe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return "", nil
}
