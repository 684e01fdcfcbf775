package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"diagnostics-proxy/internal/rbac"
)

// Mode selects how the remote permission check participates in a decision.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeFallback Mode = "fallback"
	ModeStrict   Mode = "strict"
)

// ParseMode reports false for anything other than off, fallback or strict.
func ParseMode(v string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case ModeOff, ModeFallback, ModeStrict:
		return m, true
	default:
		return "", false
	}
}

// DecisionMode names the check that produced a decision.
type DecisionMode string

const (
	DecidedByRoles      DecisionMode = "roles"
	DecidedByFallback   DecisionMode = "fallback"
	DecidedByPermission DecisionMode = "permission"
)

// Reason is the machine-readable denial (or degradation) code.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonForbiddenRole         Reason = "forbidden_role"
	ReasonPermissionUnavailable Reason = "permission_unavailable"
	ReasonPermissionCheckFailed Reason = "permission_check_failed"
	ReasonForbiddenPermission   Reason = "forbidden_permission"
)

// Decision is the evaluator output. A denied decision always carries a Reason.
// An allowed fallback decision carries the Reason that caused the fallback.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Mode    DecisionMode `json:"mode"`
	Reason  Reason       `json:"reason,omitempty"`
}

// Forwarded carries what the host runtime forwarded about the caller.
type Forwarded struct {
	UserID    string
	AuthToken string
	Host      string
	Proto     string
}

// Request is the full input of one authorization decision.
type Request struct {
	UserID         string
	Roles          rbac.RoleSet
	AllowedRoles   rbac.RoleSet
	PermissionCode string
	Mode           Mode

	// Origin is the configured workspace origin; empty means derive it
	// from the forwarded host and proto.
	Origin    string
	Forwarded Forwarded

	// LookupTimeout bounds the remote call. Zero uses DefaultLookupTimeout.
	LookupTimeout time.Duration
}

// PermissionRecord is one entry of the host platform's permission listing.
type PermissionRecord struct {
	ID    string   `json:"_id"`
	Roles []string `json:"roles"`
}

// Target is a resolved remote lookup destination.
type Target struct {
	Origin    string
	UserID    string
	AuthToken string
}

// Lookup lists permissions on the host platform.
// Implementations return ErrLookupUnavailable when the call cannot be made
// and wrap every other failure in ErrLookupFailed.
type Lookup interface {
	ListPermissions(ctx context.Context, t Target) ([]PermissionRecord, error)
}

var (
	ErrLookupUnavailable = errors.New("permission lookup unavailable")
	ErrLookupFailed      = errors.New("permission lookup failed")
)
