// Package hierarchyclient backs the hierarchy tool with a thin REST client
// over whatever service owns parent/child site and customer hierarchy data.
// The original stub never wired a real backend; this is the Go-side
// extension spec.md's "via an API" phrasing leaves open.
package hierarchyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config points the client at the hierarchy service.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Node is one entry in a parent/child hierarchy chain.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // site | customer | region
	ParentID string `json:"parent_id,omitempty"`
}

// Store is the narrow interface the hierarchy tool depends on.
type Store interface {
	HierarchiesFor(ctx context.Context, elementIDs []string) ([][]Node, error)
}

// Client implements Store over HTTP.
type Client struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Client. An empty BaseURL is allowed and simply means no
// backend is wired; callers should treat HierarchiesFor errors as the
// hierarchy tool's cue to stub out.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// HierarchiesFor fetches the parent chain for each element id, one chain per
// input id, oldest ancestor first.
func (c *Client) HierarchiesFor(ctx context.Context, elementIDs []string) ([][]Node, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("hierarchyclient: no base_url configured")
	}
	if len(elementIDs) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, id := range elementIDs {
		q.Add("element_id", id)
	}
	endpoint := fmt.Sprintf("%s/v1/hierarchies?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hierarchyclient: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("hierarchyclient: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out struct {
		Hierarchies [][]Node `json:"hierarchies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("hierarchyclient: decode: %w", err)
	}
	return out.Hierarchies, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
