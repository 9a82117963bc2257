// Package remote implements the HTTP client for the row-level remote API.
//
// The remote system exposes one resource per relation with PostgREST-style
// filter parameters: GET selects rows, POST inserts (optionally upserting on
// a conflict key), PATCH updates by filter, DELETE removes by filter. Upserts
// and updates request return=representation so the written row can be merged
// back into the local store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Query describes a filtered select against one relation.
type Query struct {
	// OwnerKey/Owner scope rows to a single user. Both empty disables the
	// owner filter.
	OwnerKey string
	Owner    string

	// Filters are static equality predicates (column -> value).
	Filters map[string]string

	// UpdatedSince is the incremental pull cursor; rows with
	// updated_at >= UpdatedSince are returned. Zero means no cursor (first
	// sync fetches everything).
	UpdatedSince time.Time
}

// Client talks to the remote row API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a remote client. baseURL is the API root, apiKey (optional) is
// sent as a bearer token. If httpClient is nil a default with a 30s timeout
// is used.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

// HealthURL returns the endpoint the connectivity monitor probes.
func (c *Client) HealthURL() string {
	return c.baseURL + "/health"
}

// Select fetches rows from a relation, applying owner scoping, static
// filters, and the incremental cursor.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]map[string]any, error) {
	params := url.Values{}
	if q.OwnerKey != "" && q.Owner != "" {
		params.Set(q.OwnerKey, "eq."+q.Owner)
	}
	for col, val := range q.Filters {
		params.Set(col, "eq."+val)
	}
	if !q.UpdatedSince.IsZero() {
		params.Set("updated_at", "gte."+q.UpdatedSince.UTC().Format(time.RFC3339))
	}

	req, err := c.newRequest(ctx, http.MethodGet, table, params, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := c.do(req, &rows); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}

// Insert creates a row and returns the written representation.
func (c *Client) Insert(ctx context.Context, table string, row map[string]any) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodPost, table, nil, row, "return=representation")
	if err != nil {
		return nil, err
	}

	rows, err := c.doRows(req)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	if len(rows) == 0 {
		return row, nil
	}
	return rows[0], nil
}

// Update patches the row with the given primary key and returns the written
// representation. Returns ErrNotFound when no row matched.
func (c *Client) Update(ctx context.Context, table, pk, id string, row map[string]any) (map[string]any, error) {
	params := url.Values{}
	params.Set(pk, "eq."+id)

	req, err := c.newRequest(ctx, http.MethodPatch, table, params, row, "return=representation")
	if err != nil {
		return nil, err
	}

	rows, err := c.doRows(req)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	if len(rows) == 0 {
		// PATCH with no matching rows succeeds with an empty body.
		return nil, fmt.Errorf("update %s/%s: %w", table, id, ErrNotFound)
	}
	return rows[0], nil
}

// Upsert inserts-or-merges a row on the given conflict key columns and
// returns the written representation. The conflict key may be a business
// composite distinct from the primary key.
func (c *Client) Upsert(ctx context.Context, table string, conflictKey []string, row map[string]any) (map[string]any, error) {
	params := url.Values{}
	params.Set("on_conflict", strings.Join(conflictKey, ","))

	req, err := c.newRequest(ctx, http.MethodPost, table, params, row,
		"resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}

	rows, err := c.doRows(req)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", table, err)
	}
	if len(rows) == 0 {
		return row, nil
	}
	return rows[0], nil
}

// Delete removes the row with the given primary key. Deleting a row that is
// already absent is success, not failure.
func (c *Client) Delete(ctx context.Context, table, pk, id string) error {
	params := url.Values{}
	params.Set(pk, "eq."+id)

	req, err := c.newRequest(ctx, http.MethodDelete, table, params, nil, "")
	if err != nil {
		return err
	}

	if err := c.do(req, nil); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// newRequest builds a request against /{table} with common headers.
func (c *Client) newRequest(ctx context.Context, method, table string, params url.Values, body any, prefer string) (*http.Request, error) {
	u := c.baseURL + "/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doRows executes a request expecting an array-of-rows response.
func (c *Client) doRows(req *http.Request) ([]map[string]any, error) {
	var rows []map[string]any
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// do executes a request and decodes the response into out (if non-nil).
// Non-2xx responses are classified into the error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure: surfaced as-is so callers can detect it with
		// IsTransient.
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// classifyStatus maps an error response to the package error taxonomy.
// Undefined-relation errors carry the Postgres 42P01 code in the body.
func classifyStatus(status int, body []byte) error {
	text := string(bytes.TrimSpace(body))

	if strings.Contains(text, "42P01") {
		return fmt.Errorf("%w: %s", ErrMissingRelation, text)
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return ErrNotFound
	}
	return &StatusError{StatusCode: status, Body: text}
}
