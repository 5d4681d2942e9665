// Package chain reads the tip height of the external chain that
// time-locked messages are gated on.
package chain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Source reports the current chain tip height.
type Source interface {
	Height(ctx context.Context) (int64, error)
}

const tipHeightPath = "/blocks/tip/height"

// HTTPSource polls an esplora-style REST endpoint for the tip height.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource builds a source against base, e.g.
// "https://blockstream.info/api". A non-positive timeout falls back to
// 30 seconds.
func NewHTTPSource(base string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Height fetches the current tip height. The endpoint answers with the
// height as plain-text decimal.
func (s *HTTPSource) Height(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+tipHeightPath, nil)
	if err != nil {
		return 0, fmt.Errorf("build tip height request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch tip height: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tip height endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("read tip height: %w", err)
	}

	h, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height %q: %w", strings.TrimSpace(string(body)), err)
	}
	return h, nil
}

// Static returns a Source pinned to a fixed height, for tests and
// deployments without an upstream chain.
func Static(height int64) Source {
	return staticSource(height)
}

type staticSource int64

func (s staticSource) Height(context.Context) (int64, error) {
	return int64(s), nil
}
