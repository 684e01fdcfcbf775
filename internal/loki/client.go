// Package loki is a minimal client for the log backend's range query API.
package loki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const maxResponseBytes = 32 << 20

var ErrNotConfigured = errors.New("log backend not configured")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("loki status %d: %s", e.Status, e.Body)
}

type Config struct {
	BaseURL  string
	TenantID string
	Username string
	Password string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// Request is one range query. Query is a complete LogQL expression.
type Request struct {
	Query string
	Start time.Time
	End   time.Time
	Limit int
}

// Line is one log line. Labels are the stream labels it came from.
type Line struct {
	Timestamp time.Time         `json:"ts"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Result holds lines newest first. Truncated reports that the backend
// returned at least Limit lines, so older lines may exist.
type Result struct {
	Lines     []Line
	Truncated bool
}

type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange runs a backward range query.
func (c *Client) QueryRange(ctx context.Context, r Request) (Result, error) {
	if c == nil || c.cfg.BaseURL == "" {
		return Result{}, ErrNotConfigured
	}
	if r.Limit <= 0 {
		return Result{}, errors.New("limit must be positive")
	}

	params := url.Values{}
	params.Set("query", r.Query)
	params.Set("start", strconv.FormatInt(r.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(r.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(r.Limit))
	params.Set("direction", "backward")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/loki/api/v1/query_range?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.cfg.TenantID)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("query_range: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > 256 {
			body = body[:256]
		}
		return Result{}, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed queryRangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Data.ResultType != "" && parsed.Data.ResultType != "streams" {
		return Result{}, fmt.Errorf("unexpected result type %q", parsed.Data.ResultType)
	}
	return flatten(parsed, r.Limit)
}

func flatten(resp queryRangeResponse, limit int) (Result, error) {
	var lines []Line
	for _, stream := range resp.Data.Result {
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				return Result{}, fmt.Errorf("bad timestamp %q: %w", v[0], err)
			}
			lines = append(lines, Line{
				Timestamp: time.Unix(0, ns).UTC(),
				Line:      v[1],
				Labels:    stream.Stream,
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Timestamp.After(lines[j].Timestamp) })

	res := Result{Truncated: len(lines) >= limit}
	if len(lines) > limit {
		lines = lines[:limit]
	}
	res.Lines = lines
	return res, nil
}
