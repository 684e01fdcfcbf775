package query

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

var testGuardrails = Guardrails{
	MaxTimeWindow:   24 * time.Hour,
	MaxLines:        500,
	DefaultLimit:    100,
	DefaultSince:    15 * time.Minute,
	MaxSearchLength: 32,
}

var testNow = time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

func mustValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return ve
}

func TestNormalize_SinceRelativeToNow(t *testing.T) {
	q, err := Normalize(url.Values{"since": {"15m"}}, nil, testGuardrails, testNow)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	wantStart := time.Date(2026, 2, 24, 11, 45, 0, 0, time.UTC)
	if !q.Start.Equal(wantStart) || !q.End.Equal(testNow) {
		t.Fatalf("unexpected window %s..%s", q.Start, q.End)
	}
	if q.Limit != 100 {
		t.Fatalf("expected default limit 100, got %d", q.Limit)
	}
}

func TestNormalize_DefaultSinceWhenEmpty(t *testing.T) {
	q, err := Normalize(nil, nil, testGuardrails, testNow)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if q.Window() != 15*time.Minute {
		t.Fatalf("expected default 15m window, got %s", q.Window())
	}
}

func TestNormalize_LoneStartRejected(t *testing.T) {
	_, err := Normalize(url.Values{"start": {"2026-02-24T11:00:00Z"}}, nil, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if !strings.Contains(ve.Error(), "start and end must both be provided together") {
		t.Fatalf("unexpected message: %v", ve)
	}
}

func TestNormalize_LoneEndRejected(t *testing.T) {
	_, err := Normalize(nil, map[string]any{"end": "2026-02-24T11:00:00Z"}, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if ve.Field != FieldEnd {
		t.Fatalf("expected end field, got %q", ve.Field)
	}
}

func TestNormalize_AbsoluteRangeWinsOverSince(t *testing.T) {
	q, err := Normalize(nil, map[string]any{
		"since": "1h",
		"start": "2026-02-24T10:00:00Z",
		"end":   "2026-02-24T10:30:00Z",
	}, testGuardrails, testNow)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if q.Window() != 30*time.Minute {
		t.Fatalf("expected absolute 30m window, got %s", q.Window())
	}
}

func TestNormalize_UnixMillis(t *testing.T) {
	start := testNow.Add(-time.Hour).UnixMilli()
	q, err := Normalize(nil, map[string]any{"start": float64(start), "end": float64(testNow.UnixMilli())}, testGuardrails, testNow)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !q.End.Equal(testNow) || q.Window() != time.Hour {
		t.Fatalf("unexpected window %s..%s", q.Start, q.End)
	}
}

func TestNormalize_StartMustPrecedeEnd(t *testing.T) {
	_, err := Normalize(nil, map[string]any{
		"start": "2026-02-24T11:00:00Z",
		"end":   "2026-02-24T11:00:00Z",
	}, testGuardrails, testNow)
	mustValidationError(t, err)
}

func TestNormalize_WindowCeiling(t *testing.T) {
	_, err := Normalize(url.Values{"since": {"2d"}}, nil, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if ve.Setting != "max_time_window" {
		t.Fatalf("expected max_time_window setting, got %q", ve.Setting)
	}
}

func TestNormalize_OverflowingSinceRejected(t *testing.T) {
	_, err := Normalize(url.Values{"since": {"5124096h"}}, nil, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if ve.Field != FieldSince {
		t.Fatalf("expected since field, got %q", ve.Field)
	}
}

func TestParseSince_TooLarge(t *testing.T) {
	for _, in := range []string{"2562048h", "106752d", "15251w", "9223372037s"} {
		d, err := ParseSince(in)
		if err == nil {
			t.Fatalf("expected %q to be rejected, got %s", in, d)
		}
		if !strings.Contains(err.Error(), "too large") {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
	}
	if d, err := ParseSince("2562047h"); err != nil || d <= 0 {
		t.Fatalf("expected largest whole hour to parse, got %s %v", d, err)
	}
}

func TestNormalize_LimitAboveMaxRejectedNotClamped(t *testing.T) {
	_, err := Normalize(url.Values{"limit": {"501"}}, nil, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if ve.Field != FieldLimit || ve.Setting != "max_lines" {
		t.Fatalf("unexpected error %+v", ve)
	}

	q, err := Normalize(nil, map[string]any{"limit": float64(500)}, testGuardrails, testNow)
	if err != nil || q.Limit != 500 {
		t.Fatalf("expected limit at ceiling to pass, got %d %v", q.Limit, err)
	}
}

func TestNormalize_LimitBounds(t *testing.T) {
	for _, v := range []any{float64(0), float64(-3), "x", float64(1.5), true} {
		if _, err := Normalize(nil, map[string]any{"limit": v}, testGuardrails, testNow); err == nil {
			t.Fatalf("expected error for limit %v", v)
		}
	}
}

func TestNormalize_UnknownFieldRejected(t *testing.T) {
	_, err := Normalize(url.Values{"query": {`{app="x"}`}}, nil, testGuardrails, testNow)
	ve := mustValidationError(t, err)
	if ve.Field != "query" {
		t.Fatalf("expected unknown field named, got %q", ve.Field)
	}

	_, err = Normalize(nil, map[string]any{"selector": "x"}, testGuardrails, testNow)
	mustValidationError(t, err)
}

func TestNormalize_RepeatedParamRejected(t *testing.T) {
	_, err := Normalize(url.Values{"since": {"5m", "10m"}}, nil, testGuardrails, testNow)
	mustValidationError(t, err)
}

func TestNormalize_LevelEnum(t *testing.T) {
	q, err := Normalize(url.Values{"level": {"ERROR"}}, nil, testGuardrails, testNow)
	if err != nil || q.Level != LevelError {
		t.Fatalf("expected error level, got %q %v", q.Level, err)
	}
	if _, err := Normalize(url.Values{"level": {"trace"}}, nil, testGuardrails, testNow); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestNormalize_SearchLength(t *testing.T) {
	if _, err := Normalize(nil, map[string]any{"search": strings.Repeat("a", 33)}, testGuardrails, testNow); err == nil {
		t.Fatalf("expected long search to be rejected")
	}
	q, err := Normalize(nil, map[string]any{"search": "timeout"}, testGuardrails, testNow)
	if err != nil || q.Search != "timeout" {
		t.Fatalf("unexpected %q %v", q.Search, err)
	}
}

func TestNormalize_SearchKeptVerbatim(t *testing.T) {
	q, err := Normalize(nil, map[string]any{"search": " error "}, testGuardrails, testNow)
	if err != nil || q.Search != " error " {
		t.Fatalf("expected surrounding spaces kept, got %q %v", q.Search, err)
	}
	q, err = Normalize(url.Values{"search": {"   "}}, nil, testGuardrails, testNow)
	if err != nil || q.Search != "" {
		t.Fatalf("expected blank search to be absent, got %q %v", q.Search, err)
	}
}

func TestNormalized_ScopeOmitsSearchText(t *testing.T) {
	q := Normalized{Start: testNow.Add(-time.Minute), End: testNow, Limit: 10, Search: "secret-value"}
	scope := q.Scope()
	for _, v := range scope {
		if s, ok := v.(string); ok && strings.Contains(s, "secret-value") {
			t.Fatalf("scope must not contain search text: %v", scope)
		}
	}
	if scope["search_length"] != 12 {
		t.Fatalf("expected search_length, got %v", scope["search_length"])
	}
}
