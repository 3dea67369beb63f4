// Package connectivity answers whether the wide-area network is reachable.
package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultURL is the well-known endpoint probed when none is configured
const DefaultURL = "http://google.com"

// Prober performs a short-timeout HTTP reachability check
type Prober struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewProber creates a prober for url. A zero timeout defaults to 5s.
func NewProber(url string, timeout time.Duration) *Prober {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable reports true only when the endpoint answered with a non-5xx
// response. It never returns an error.
func (p *Prober) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		slog.Debug("connectivity probe request invalid", "url", p.url, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("connectivity probe failed", "url", p.url, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		slog.Debug("connectivity probe got server error", "url", p.url, "status", resp.StatusCode)
		return false
	}
	return true
}
