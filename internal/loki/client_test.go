package loki

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const streamsBody = `{"status":"success","data":{"resultType":"streams","result":[
 {"stream":{"app":"chat","pod":"a"},"values":[["1700000003000000000","c"],["1700000001000000000","a"]]},
 {"stream":{"app":"chat","pod":"b"},"values":[["1700000002000000000","b"]]}
]}}`

func TestQueryRange_BuildsRequestAndFlattens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("query") != `{app="chat"} |= "boom"` || q.Get("limit") != "10" || q.Get("direction") != "backward" {
			t.Errorf("query params: %v", q)
		}
		if q.Get("start") != "1700000000000000000" || q.Get("end") != "1700000060000000000" {
			t.Errorf("range: %s..%s", q.Get("start"), q.Get("end"))
		}
		if r.Header.Get("X-Scope-OrgID") != "tenant-1" {
			t.Errorf("tenant header missing")
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "bob" || p != "pw" {
			t.Errorf("basic auth missing")
		}
		_, _ = w.Write([]byte(streamsBody))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", TenantID: "tenant-1", Username: "bob", Password: "pw"}, nil)
	res, err := c.QueryRange(context.Background(), Request{
		Query: `{app="chat"} |= "boom"`,
		Start: time.Unix(1700000000, 0),
		End:   time.Unix(1700000060, 0),
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Lines) != 3 || res.Truncated {
		t.Fatalf("got %+v", res)
	}
	if res.Lines[0].Line != "c" || res.Lines[1].Line != "b" || res.Lines[2].Line != "a" {
		t.Fatalf("expected newest first, got %+v", res.Lines)
	}
	if res.Lines[1].Labels["pod"] != "b" {
		t.Fatalf("labels: %+v", res.Lines[1].Labels)
	}
}

func TestQueryRange_CapsAtLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(streamsBody))
	}))
	defer srv.Close()

	res, err := New(Config{BaseURL: srv.URL}, nil).QueryRange(context.Background(), Request{Query: "{}", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Lines) != 2 || !res.Truncated || res.Lines[0].Line != "c" {
		t.Fatalf("got %+v", res)
	}
}

func TestQueryRange_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many outstanding requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}, nil).QueryRange(context.Background(), Request{Query: "{}", Limit: 1})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusTooManyRequests {
		t.Fatalf("expected StatusError, got %v", err)
	}

	if _, err := New(Config{}, nil).QueryRange(context.Background(), Request{Limit: 1}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestQueryRange_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{BaseURL: srv.URL}, nil).QueryRange(ctx, Request{Query: "{}", Limit: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
