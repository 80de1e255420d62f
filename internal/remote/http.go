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

	"github.com/linkstash/linkstash/internal/schema"
)

// HTTPClient talks to a PostgREST-style row API:
//
//	GET    {base}/rest/v1/{table}?user_id=eq.{uid}&select=*
//	POST   {base}/rest/v1/{table}            (Prefer: return=representation)
//	PATCH  {base}/rest/v1/{table}?id=eq.{id}&user_id=eq.{uid}
//	DELETE {base}/rest/v1/{table}?id=eq.{id}&user_id=eq.{uid}
//
// Authentication is supplied externally: an API key header plus a
// bearer token resolved per request, so an expiring session token can
// be refreshed without rebuilding the client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	token   func(ctx context.Context) (string, error)
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the row API at baseURL.
//
// token may be nil when the API key alone authenticates requests.
// httpClient may be nil, in which case a client with a 30s timeout is
// used.
func NewHTTPClient(baseURL, apiKey string, token func(ctx context.Context) (string, error), httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		http:    httpClient,
	}
}

// Ping implements Client with a cheap unauthenticated reachability
// probe against the API root.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote unreachable: %w", err)
	}
	_ = resp.Body.Close()
	// Any HTTP response at all means the network path is up.
	return nil
}

// InsertCategory implements Client.
func (c *HTTPClient) InsertCategory(ctx context.Context, userID string, cat *schema.Category) (*schema.Category, error) {
	row := *cat
	row.UserID = userID

	var inserted []schema.Category
	if err := c.do(ctx, http.MethodPost, string(schema.TableCategories), nil, &row, &inserted); err != nil {
		return nil, fmt.Errorf("failed to insert remote category: %w", err)
	}
	if len(inserted) == 0 {
		return &row, nil
	}
	return &inserted[0], nil
}

// UpdateCategory implements Client.
func (c *HTTPClient) UpdateCategory(ctx context.Context, userID string, cat *schema.Category) error {
	row := *cat
	row.UserID = userID

	filter := rowFilter(cat.ID, userID)
	if err := c.do(ctx, http.MethodPatch, string(schema.TableCategories), filter, &row, nil); err != nil {
		return fmt.Errorf("failed to update remote category %d: %w", cat.ID, err)
	}
	return nil
}

// DeleteCategory implements Client.
func (c *HTTPClient) DeleteCategory(ctx context.Context, userID string, id int64) error {
	if err := c.do(ctx, http.MethodDelete, string(schema.TableCategories), rowFilter(id, userID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete remote category %d: %w", id, err)
	}
	return nil
}

// ListCategories implements Client.
func (c *HTTPClient) ListCategories(ctx context.Context, userID string) ([]schema.Category, error) {
	var rows []schema.Category
	if err := c.do(ctx, http.MethodGet, string(schema.TableCategories), userFilter(userID), nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list remote categories: %w", err)
	}
	return rows, nil
}

// InsertLink implements Client.
func (c *HTTPClient) InsertLink(ctx context.Context, userID string, l *schema.Link) (*schema.Link, error) {
	row := *l
	row.UserID = userID

	var inserted []schema.Link
	if err := c.do(ctx, http.MethodPost, string(schema.TableLinks), nil, &row, &inserted); err != nil {
		return nil, fmt.Errorf("failed to insert remote link: %w", err)
	}
	if len(inserted) == 0 {
		return &row, nil
	}
	return &inserted[0], nil
}

// UpdateLink implements Client.
func (c *HTTPClient) UpdateLink(ctx context.Context, userID string, l *schema.Link) error {
	row := *l
	row.UserID = userID

	if err := c.do(ctx, http.MethodPatch, string(schema.TableLinks), rowFilter(l.ID, userID), &row, nil); err != nil {
		return fmt.Errorf("failed to update remote link %d: %w", l.ID, err)
	}
	return nil
}

// DeleteLink implements Client.
func (c *HTTPClient) DeleteLink(ctx context.Context, userID string, id int64) error {
	if err := c.do(ctx, http.MethodDelete, string(schema.TableLinks), rowFilter(id, userID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete remote link %d: %w", id, err)
	}
	return nil
}

// ListLinks implements Client.
func (c *HTTPClient) ListLinks(ctx context.Context, userID string) ([]schema.Link, error) {
	var rows []schema.Link
	if err := c.do(ctx, http.MethodGet, string(schema.TableLinks), userFilter(userID), nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list remote links: %w", err)
	}
	return rows, nil
}

func userFilter(userID string) url.Values {
	v := url.Values{}
	v.Set("user_id", "eq."+userID)
	v.Set("select", "*")
	return v
}

func rowFilter(id int64, userID string) url.Values {
	v := url.Values{}
	v.Set("id", fmt.Sprintf("eq.%d", id))
	v.Set("user_id", "eq."+userID)
	return v
}

// do executes one request against a table endpoint. body (if non-nil)
// is JSON encoded; out (if non-nil) receives the decoded response.
func (c *HTTPClient) do(ctx context.Context, method, table string, query url.Values, body, out any) error {
	endpoint := c.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		// merge-duplicates makes inserts idempotent, so a full
		// re-upload of rows the remote already has cannot fail.
		req.Header.Set("Prefer", "return=representation,resolution=merge-duplicates")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
