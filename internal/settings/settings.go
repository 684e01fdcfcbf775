// Package settings reads operator settings per request and coerces them into
// a typed value. Stored values are untrusted strings: every key is parsed
// here, with defaults for missing or malformed values, so nothing downstream
// sees raw settings.
package settings

import (
	"strconv"
	"strings"
	"time"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/query"
	"diagnostics-proxy/internal/rbac"
	"diagnostics-proxy/internal/redact"
)

// Setting keys.
const (
	KeyAllowedRoles         = "allowed_roles"
	KeyPermissionCode       = "permission_code"
	KeyPermissionMode       = "permission_mode"
	KeyWorkspaceOrigin      = "workspace_origin"
	KeyRateLimitWindow      = "rate_limit_window"
	KeyRateLimitQuery       = "rate_limit_query"
	KeyRateLimitAction      = "rate_limit_action"
	KeyRedactionEnabled     = "redaction_enabled"
	KeyRedactionReplacement = "redaction_replacement"
	KeyAuditRetentionDays   = "audit_retention_days"
	KeyAuditMaxEntries      = "audit_max_entries"
	KeyMaxTimeWindow        = "max_time_window"
	KeyMaxLines             = "max_lines"
	KeyDefaultLimit         = "default_limit"
	KeyDefaultSince         = "default_since"
	KeyQueryTimeout         = "query_timeout"
	KeyLookupTimeout        = "lookup_timeout"
	KeyMaxSearchLength      = "max_search_length"
	KeyRequiredSelector     = "required_selector"
	KeyMaxConcurrentQueries = "max_concurrent_queries"
)

type Settings struct {
	AllowedRoles    rbac.RoleSet
	PermissionCode  string
	PermissionMode  access.Mode
	WorkspaceOrigin string

	RateLimitWindow time.Duration
	RateLimitQuery  int
	RateLimitAction int

	RedactionEnabled     bool
	RedactionReplacement string

	AuditRetentionDays int
	AuditMaxEntries    int

	MaxTimeWindow   time.Duration
	MaxLines        int
	DefaultLimit    int
	DefaultSince    time.Duration
	QueryTimeout    time.Duration
	LookupTimeout   time.Duration
	MaxSearchLength int

	RequiredSelector     string
	MaxConcurrentQueries int

	// Invalid lists keys whose stored value could not be parsed and fell
	// back to the default. Logged, never fatal.
	Invalid []string
}

// Defaults returns the settings used when the source has no values.
func Defaults() Settings {
	return Settings{
		AllowedRoles:         rbac.NewRoleSet(rbac.RoleAdmin),
		PermissionCode:       "view-logs",
		PermissionMode:       access.ModeOff,
		RateLimitWindow:      time.Minute,
		RateLimitQuery:       30,
		RateLimitAction:      60,
		RedactionEnabled:     true,
		RedactionReplacement: redact.DefaultReplacement,
		AuditRetentionDays:   90,
		AuditMaxEntries:      5000,
		MaxTimeWindow:        24 * time.Hour,
		MaxLines:             1000,
		DefaultLimit:         200,
		DefaultSince:         15 * time.Minute,
		QueryTimeout:         15 * time.Second,
		LookupTimeout:        5 * time.Second,
		MaxSearchLength:      256,
		MaxConcurrentQueries: 2,
	}
}

// Parse coerces raw values over Defaults. An unknown permission mode fails
// closed to strict.
func Parse(values map[string]string) Settings {
	s := Defaults()
	p := parser{values: values, s: &s}

	if v, ok := p.str(KeyAllowedRoles); ok {
		s.AllowedRoles = rbac.ParseRoleList(v)
	}
	if v, ok := p.str(KeyPermissionCode); ok {
		s.PermissionCode = v
	}
	if v, ok := p.str(KeyPermissionMode); ok {
		if m, valid := access.ParseMode(v); valid {
			s.PermissionMode = m
		} else {
			s.PermissionMode = access.ModeStrict
			s.Invalid = append(s.Invalid, KeyPermissionMode)
		}
	}
	if v, ok := p.str(KeyWorkspaceOrigin); ok {
		s.WorkspaceOrigin = strings.TrimRight(v, "/")
	}

	p.duration(KeyRateLimitWindow, &s.RateLimitWindow)
	p.nonNegativeInt(KeyRateLimitQuery, &s.RateLimitQuery)
	p.nonNegativeInt(KeyRateLimitAction, &s.RateLimitAction)

	p.boolean(KeyRedactionEnabled, &s.RedactionEnabled)
	if v, ok := values[KeyRedactionReplacement]; ok && v != "" {
		s.RedactionReplacement = v
	}

	p.positiveInt(KeyAuditRetentionDays, &s.AuditRetentionDays)
	p.positiveInt(KeyAuditMaxEntries, &s.AuditMaxEntries)

	p.duration(KeyMaxTimeWindow, &s.MaxTimeWindow)
	p.positiveInt(KeyMaxLines, &s.MaxLines)
	p.positiveInt(KeyDefaultLimit, &s.DefaultLimit)
	p.duration(KeyDefaultSince, &s.DefaultSince)
	p.duration(KeyQueryTimeout, &s.QueryTimeout)
	p.duration(KeyLookupTimeout, &s.LookupTimeout)
	p.positiveInt(KeyMaxSearchLength, &s.MaxSearchLength)
	p.nonNegativeInt(KeyMaxConcurrentQueries, &s.MaxConcurrentQueries)

	if v, ok := p.str(KeyRequiredSelector); ok {
		s.RequiredSelector = v
	}
	if s.DefaultLimit > s.MaxLines {
		s.DefaultLimit = s.MaxLines
	}
	return s
}

// Guardrails returns the query ceilings.
func (s Settings) Guardrails() query.Guardrails {
	return query.Guardrails{
		MaxTimeWindow:   s.MaxTimeWindow,
		MaxLines:        s.MaxLines,
		DefaultLimit:    s.DefaultLimit,
		DefaultSince:    s.DefaultSince,
		MaxSearchLength: s.MaxSearchLength,
	}
}

// Redaction returns the redaction policy.
func (s Settings) Redaction() redact.Policy {
	return redact.Policy{Enabled: s.RedactionEnabled, Replacement: s.RedactionReplacement}
}

type parser struct {
	values map[string]string
	s      *Settings
}

func (p parser) str(key string) (string, bool) {
	v := strings.TrimSpace(p.values[key])
	return v, v != ""
}

func (p parser) bad(key string) { p.s.Invalid = append(p.s.Invalid, key) }

func (p parser) duration(key string, dst *time.Duration) {
	v, ok := p.str(key)
	if !ok {
		return
	}
	d, err := query.ParseSince(v)
	if err != nil {
		p.bad(key)
		return
	}
	*dst = d
}

func (p parser) positiveInt(key string, dst *int) {
	v, ok := p.str(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.bad(key)
		return
	}
	*dst = n
}

func (p parser) nonNegativeInt(key string, dst *int) {
	v, ok := p.str(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.bad(key)
		return
	}
	*dst = n
}

func (p parser) boolean(key string, dst *bool) {
	v, ok := p.str(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.bad(key)
		return
	}
	*dst = b
}

// AccessRequest fills the operator-controlled half of an authorization request.
func (s Settings) AccessRequest(userID string, roles rbac.RoleSet, fwd access.Forwarded) access.Request {
	return access.Request{
		UserID:         userID,
		Roles:          roles,
		AllowedRoles:   s.AllowedRoles,
		PermissionCode: s.PermissionCode,
		Mode:           s.PermissionMode,
		Origin:         s.WorkspaceOrigin,
		Forwarded:      fwd,
		LookupTimeout:  s.LookupTimeout,
	}
}
