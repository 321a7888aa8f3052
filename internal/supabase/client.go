// Package supabase wraps the Supabase PostgREST API so the rest of the
// codebase doesn't need to know about HTTP details. All persisted reads
// and writes for tunnels, users, API keys, and analytics go through this
// client, which handles auth headers and query construction.
package supabase

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

	"github.com/rs/zerolog"
)

// Client talks to a Supabase project's PostgREST endpoint
// (`{url}/rest/v1`) using the service-role key for write access and the
// anon key in the `apikey` header PostgREST expects on every request.
type Client struct {
	http       *http.Client
	baseURL    string
	anonKey    string
	serviceKey string
	log        zerolog.Logger
}

// New constructs a Client. url is the project's base URL (without
// /rest/v1); anonKey and serviceKey are the Supabase anon and
// service-role keys respectively.
func New(baseURL, anonKey, serviceKey string, log zerolog.Logger) *Client {
	return &Client{
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/") + "/rest/v1",
		anonKey:    anonKey,
		serviceKey: serviceKey,
		log:        log.With().Str("component", "supabase").Logger(),
	}
}

// Filter is a single PostgREST query parameter, e.g. {"subdomain",
// "eq.brave-eagle-a1b2c3d4"}.
type Filter struct {
	Key   string
	Value string
}

// Eq builds an "eq." equality filter for column.
func Eq(column, value string) Filter {
	return Filter{Key: column, Value: "eq." + value}
}

// Select runs a SELECT against table, applying filters as PostgREST
// query parameters, and decodes the JSON array response into out.
func (c *Client) Select(ctx context.Context, table string, filters []Filter, out any) error {
	c.log.Debug().Str("table", table).Msg("selecting from supabase")

	req, err := c.newRequest(ctx, http.MethodGet, table, filters, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Insert inserts body (a single row or a slice of rows) into table and
// decodes the representation PostgREST returns into out.
func (c *Client) Insert(ctx context.Context, table string, body, out any) error {
	c.log.Debug().Str("table", table).Msg("inserting into supabase")

	req, err := c.newRequest(ctx, http.MethodPost, table, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")
	return c.do(req, out)
}

// Update patches rows matching filters with the fields in body.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, body, out any) error {
	c.log.Debug().Str("table", table).Msg("updating in supabase")

	req, err := c.newRequest(ctx, http.MethodPatch, table, filters, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")
	return c.do(req, out)
}

// Delete removes rows matching filters. Called with no filters this
// would delete every row in the table, so callers must always supply
// at least one.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter, out any) error {
	c.log.Debug().Str("table", table).Msg("deleting from supabase")

	if len(filters) == 0 {
		return fmt.Errorf("supabase: refusing delete on %q with no filters", table)
	}

	req, err := c.newRequest(ctx, http.MethodDelete, table, filters, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, table string, filters []Filter, body any) (*http.Request, error) {
	u := c.baseURL + "/" + table
	if len(filters) > 0 {
		q := url.Values{}
		for _, f := range filters {
			q.Add(f.Key, f.Value)
		}
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("supabase: encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("supabase: building request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("supabase: reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("supabase: %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("supabase: decoding response: %w", err)
	}
	return nil
}
