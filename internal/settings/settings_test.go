package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/rbac"
)

func TestParse_EmptyUsesDefaults(t *testing.T) {
	s := Parse(nil)
	d := Defaults()

	if s.PermissionMode != access.ModeOff {
		t.Fatalf("mode: got %q", s.PermissionMode)
	}
	if !s.AllowedRoles.Has(rbac.RoleAdmin) || len(s.AllowedRoles) != 1 {
		t.Fatalf("allowed roles: got %v", s.AllowedRoles.Slice())
	}
	if s.MaxLines != d.MaxLines || s.DefaultSince != 15*time.Minute || s.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if len(s.Invalid) != 0 {
		t.Fatalf("expected no invalid keys, got %v", s.Invalid)
	}
}

func TestParse_CoercesValues(t *testing.T) {
	s := Parse(map[string]string{
		KeyAllowedRoles:     "admin, support;ops",
		KeyPermissionMode:   "Fallback",
		KeyWorkspaceOrigin:  "https://chat.example.com/",
		KeyRateLimitWindow:  "30s",
		KeyRateLimitQuery:   "0",
		KeyRedactionEnabled: "false",
		KeyMaxTimeWindow:    "2d",
		KeyMaxLines:         "500",
		KeyDefaultSince:     "1h",
		KeyRequiredSelector: `{app="chat"}`,
		KeyAuditMaxEntries:  "100",
		KeyMaxSearchLength:  "64",
	})

	if s.PermissionMode != access.ModeFallback {
		t.Fatalf("mode: got %q", s.PermissionMode)
	}
	if !s.AllowedRoles.Has("support") || !s.AllowedRoles.Has("ops") {
		t.Fatalf("roles: got %v", s.AllowedRoles.Slice())
	}
	if s.WorkspaceOrigin != "https://chat.example.com" {
		t.Fatalf("origin: got %q", s.WorkspaceOrigin)
	}
	if s.RateLimitWindow != 30*time.Second || s.RateLimitQuery != 0 {
		t.Fatalf("rate limit: got %v / %d", s.RateLimitWindow, s.RateLimitQuery)
	}
	if s.Redaction().Enabled {
		t.Fatalf("expected redaction disabled")
	}
	g := s.Guardrails()
	if g.MaxTimeWindow != 48*time.Hour || g.MaxLines != 500 || g.DefaultSince != time.Hour || g.MaxSearchLength != 64 {
		t.Fatalf("guardrails: got %+v", g)
	}
	if s.RequiredSelector != `{app="chat"}` || s.AuditMaxEntries != 100 {
		t.Fatalf("got %+v", s)
	}
}

func TestParse_MalformedFallsBackToDefaults(t *testing.T) {
	s := Parse(map[string]string{
		KeyMaxLines:           "lots",
		KeyRateLimitQuery:     "-1",
		KeyQueryTimeout:       "soon",
		KeyRedactionEnabled:   "maybe",
		KeyAuditRetentionDays: "0",
	})
	d := Defaults()
	if s.MaxLines != d.MaxLines || s.RateLimitQuery != d.RateLimitQuery || s.QueryTimeout != d.QueryTimeout {
		t.Fatalf("expected defaults, got %+v", s)
	}
	if !s.RedactionEnabled || s.AuditRetentionDays != d.AuditRetentionDays {
		t.Fatalf("expected defaults, got %+v", s)
	}
	if len(s.Invalid) != 5 {
		t.Fatalf("expected 5 invalid keys, got %v", s.Invalid)
	}
}

func TestParse_OverflowingDurationFallsBack(t *testing.T) {
	s := Parse(map[string]string{
		KeyRateLimitWindow: "2562048h",
		KeyQueryTimeout:    "106752d",
	})
	d := Defaults()
	if s.RateLimitWindow != d.RateLimitWindow || s.QueryTimeout != d.QueryTimeout {
		t.Fatalf("expected defaults, got window=%s timeout=%s", s.RateLimitWindow, s.QueryTimeout)
	}
	if len(s.Invalid) != 2 {
		t.Fatalf("expected 2 invalid keys, got %v", s.Invalid)
	}
}

func TestParse_UnknownModeFailsClosed(t *testing.T) {
	s := Parse(map[string]string{KeyPermissionMode: "lenient"})
	if s.PermissionMode != access.ModeStrict {
		t.Fatalf("expected strict, got %q", s.PermissionMode)
	}
}

func TestParse_DefaultLimitClampedToMaxLines(t *testing.T) {
	s := Parse(map[string]string{KeyMaxLines: "50"})
	if s.DefaultLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", s.DefaultLimit)
	}
}

func TestAccessRequest(t *testing.T) {
	s := Parse(map[string]string{KeyPermissionMode: "strict", KeyLookupTimeout: "2s", KeyPermissionCode: "logs"})
	req := s.AccessRequest("u1", rbac.NewRoleSet("admin"), access.Forwarded{UserID: "u1", AuthToken: "tok"})
	if req.Mode != access.ModeStrict || req.LookupTimeout != 2*time.Second || req.PermissionCode != "logs" {
		t.Fatalf("got %+v", req)
	}
	if !req.AllowedRoles.Has("admin") || req.Forwarded.AuthToken != "tok" {
		t.Fatalf("got %+v", req)
	}
}

func TestFromEnv(t *testing.T) {
	src := FromEnv([]string{"SETTING_MAX_LINES=10", "APP_ENV=dev", "SETTING_PERMISSION_MODE=strict", "BROKEN"})
	if len(src) != 2 || src["max_lines"] != "10" || src["permission_mode"] != "strict" {
		t.Fatalf("got %v", src)
	}
}

func TestRedisHash_LoadAndLayering(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mr.HSet("diagproxy:settings", KeyMaxLines, "300")
	mr.HSet("diagproxy:settings", KeyPermissionMode, "fallback")

	src := Layered{Static{KeyMaxLines: "100", KeyDefaultLimit: "20"}, NewRedisHash(rdb, "")}
	s, err := Load(context.Background(), src)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.MaxLines != 300 || s.DefaultLimit != 20 || s.PermissionMode != access.ModeFallback {
		t.Fatalf("got %+v", s)
	}

	mr.HSet("diagproxy:settings", KeyMaxLines, "400")
	s, err = Load(context.Background(), src)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.MaxLines != 400 {
		t.Fatalf("expected change visible without restart, got %d", s.MaxLines)
	}
}

func TestRedisHash_UnreachableIsError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	if _, err := Load(context.Background(), NewRedisHash(rdb, "k")); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
