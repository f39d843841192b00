// Package api is the REST client for the ledger service. The sync layer
// never receives full state over the push channel, only staleness
// signals; this client is where the dependent views refetch from.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// TokenSource supplies the session token for a request. It is consulted
// on every request, so a token stored after the client was built is
// picked up without a rebuild.
type TokenSource func() (string, error)

type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

// NewClient builds a client for the given service origin. token may be
// empty; requests are then sent unauthenticated and the server decides
// what to serve.
func NewClient(baseURL, token string) *Client {
	return NewClientWithTokenSource(baseURL, func() (string, error) {
		return token, nil
	})
}

// NewClientWithTokenSource builds a client that reads its token from
// source per request.
func NewClientWithTokenSource(baseURL string, source TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		token:   source,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("reading session token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (%s)", path, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// GetChainSummary fetches the current chain state overview.
func (c *Client) GetChainSummary(ctx context.Context) (*ChainSummaryResponse, error) {
	var out ChainSummaryResponse
	if err := c.getJSON(ctx, "/api/chain", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCollections fetches the record collections.
func (c *Client) GetCollections(ctx context.Context) (*ListCollectionsResponse, error) {
	var out ListCollectionsResponse
	if err := c.getJSON(ctx, "/api/collections", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPeers fetches the peer list.
func (c *Client) GetPeers(ctx context.Context) (*ListPeersResponse, error) {
	var out ListPeersResponse
	if err := c.getJSON(ctx, "/api/peers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMetrics fetches the service metrics snapshot.
func (c *Client) GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	var out MetricsResponse
	if err := c.getJSON(ctx, "/api/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAuditLogs fetches one historical page of audit events. This is the
// server-backed population; it is independent of the live audit stream
// buffer and the two are never merged client-side.
func (c *Client) GetAuditLogs(ctx context.Context, page, limit int) (*ListAuditLogsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var out ListAuditLogsResponse
	if err := c.getJSON(ctx, "/api/audit-logs", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHealth checks service reachability.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
