// Package query turns untrusted request parameters into a bounded log query.
// Everything downstream trusts a Normalized value, so every rule here is a
// guardrail: unknown fields, inverted or oversized windows and oversized
// limits are rejected instead of being repaired.
package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Recognized request fields.
const (
	FieldSince  = "since"
	FieldStart  = "start"
	FieldEnd    = "end"
	FieldLimit  = "limit"
	FieldLevel  = "level"
	FieldSearch = "search"
)

var recognized = map[string]struct{}{
	FieldSince: {}, FieldStart: {}, FieldEnd: {},
	FieldLimit: {}, FieldLevel: {}, FieldSearch: {},
}

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func parseLevel(v string) (Level, bool) {
	switch l := Level(strings.ToLower(strings.TrimSpace(v))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l, true
	default:
		return "", false
	}
}

// Guardrails are the operator ceilings applied to every query.
type Guardrails struct {
	MaxTimeWindow   time.Duration
	MaxLines        int
	DefaultLimit    int
	DefaultSince    time.Duration
	MaxSearchLength int
}

// Normalized is a validated query. Start is always before End, the window
// never exceeds MaxTimeWindow and Limit is within [1, MaxLines].
type Normalized struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Limit  int       `json:"limit"`
	Level  Level     `json:"level,omitempty"`
	Search string    `json:"search,omitempty"`
}

// Window returns End - Start.
func (n Normalized) Window() time.Duration { return n.End.Sub(n.Start) }

// Scope is the audit-safe summary of the query. Search text is not included.
func (n Normalized) Scope() map[string]any {
	s := map[string]any{
		"start":  n.Start.UTC().Format(time.RFC3339),
		"end":    n.End.UTC().Format(time.RFC3339),
		"limit":  n.Limit,
		"window": n.Window().String(),
	}
	if n.Level != "" {
		s["level"] = string(n.Level)
	}
	if n.Search != "" {
		s["search_length"] = utf8.RuneCountInString(n.Search)
	}
	return s
}

// ValidationError describes a rejected field. Setting names the operator
// setting whose ceiling was hit, when there is one.
type ValidationError struct {
	Field   string
	Setting string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Detail
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Detail)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// Normalize validates params (URL query) and body (decoded JSON object)
// against g. Body values win over params for the same key. now anchors
// relative windows and the default end.
func Normalize(params url.Values, body map[string]any, g Guardrails, now time.Time) (Normalized, error) {
	raw, err := merge(params, body)
	if err != nil {
		return Normalized{}, err
	}

	var out Normalized

	startRaw, hasStart := raw[FieldStart]
	endRaw, hasEnd := raw[FieldEnd]
	if hasStart != hasEnd {
		field := FieldStart
		if hasEnd {
			field = FieldEnd
		}
		return Normalized{}, invalid(field, "start and end must both be provided together")
	}

	if hasStart {
		if out.Start, err = parseTimestamp(FieldStart, startRaw); err != nil {
			return Normalized{}, err
		}
		if out.End, err = parseTimestamp(FieldEnd, endRaw); err != nil {
			return Normalized{}, err
		}
	} else {
		since := g.DefaultSince
		if v, ok := raw[FieldSince]; ok {
			s, ok := v.(string)
			if !ok {
				return Normalized{}, invalid(FieldSince, "must be a duration string such as 15m")
			}
			if since, err = ParseSince(s); err != nil {
				return Normalized{}, invalid(FieldSince, "%v", err)
			}
		}
		if since <= 0 {
			return Normalized{}, invalid(FieldSince, "a time window is required")
		}
		out.End = now.UTC()
		out.Start = out.End.Add(-since)
	}

	if !out.Start.Before(out.End) {
		return Normalized{}, invalid(FieldStart, "start must be before end")
	}
	if g.MaxTimeWindow > 0 && out.Window() > g.MaxTimeWindow {
		return Normalized{}, &ValidationError{
			Field:   FieldStart,
			Setting: "max_time_window",
			Detail:  fmt.Sprintf("time window %s exceeds maximum %s", out.Window(), g.MaxTimeWindow),
		}
	}

	if out.Limit, err = resolveLimit(raw, g); err != nil {
		return Normalized{}, err
	}

	if v, ok := raw[FieldLevel]; ok {
		s, _ := v.(string)
		lvl, ok := parseLevel(s)
		if !ok {
			return Normalized{}, invalid(FieldLevel, "must be one of debug, info, warn, error")
		}
		out.Level = lvl
	}

	if v, ok := raw[FieldSearch]; ok {
		s, ok := v.(string)
		if !ok {
			return Normalized{}, invalid(FieldSearch, "must be a string")
		}
		if g.MaxSearchLength > 0 && utf8.RuneCountInString(s) > g.MaxSearchLength {
			return Normalized{}, &ValidationError{
				Field:   FieldSearch,
				Setting: "max_search_length",
				Detail:  fmt.Sprintf("must be at most %d characters", g.MaxSearchLength),
			}
		}
		out.Search = s
	}

	return out, nil
}

// merge flattens params and body into one map and rejects unknown or repeated keys.
func merge(params url.Values, body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params)+len(body))

	var unknown []string
	for k, vs := range params {
		if _, ok := recognized[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		if len(vs) != 1 {
			return nil, invalid(k, "must be provided once")
		}
		out[k] = trimValue(k, vs[0])
	}
	for k, v := range body {
		if _, ok := recognized[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			v = trimValue(k, s)
		}
		out[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, invalid(unknown[0], "unknown field (allowed: since, start, end, limit, level, search)")
	}

	for k, v := range out {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			delete(out, k)
		}
	}
	return out, nil
}

// trimValue strips surrounding whitespace from every field except search,
// which is matched verbatim.
func trimValue(field, v string) string {
	if field == FieldSearch {
		return v
	}
	return strings.TrimSpace(v)
}

func resolveLimit(raw map[string]any, g Guardrails) (int, error) {
	v, ok := raw[FieldLimit]
	if !ok {
		limit := g.DefaultLimit
		if g.MaxLines > 0 && (limit <= 0 || limit > g.MaxLines) {
			limit = g.MaxLines
		}
		if limit <= 0 {
			limit = 1
		}
		return limit, nil
	}

	var n int
	switch t := v.(type) {
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, invalid(FieldLimit, "must be an integer")
		}
		n = i
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 || t < math.MinInt32 {
			return 0, invalid(FieldLimit, "must be an integer")
		}
		n = int(t)
	default:
		return 0, invalid(FieldLimit, "must be an integer")
	}

	if n < 1 {
		return 0, invalid(FieldLimit, "must be at least 1")
	}
	if g.MaxLines > 0 && n > g.MaxLines {
		return 0, &ValidationError{
			Field:   FieldLimit,
			Setting: "max_lines",
			Detail:  fmt.Sprintf("%d exceeds maximum %d", n, g.MaxLines),
		}
	}
	return n, nil
}

// parseTimestamp accepts RFC 3339 strings and integer unix milliseconds.
func parseTimestamp(field string, v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), nil
		}
	case float64:
		if t > 0 && t == math.Trunc(t) {
			return time.UnixMilli(int64(t)).UTC(), nil
		}
	}
	return time.Time{}, invalid(field, "must be an RFC 3339 timestamp or unix milliseconds")
}
