// Package access decides whether a caller may use the diagnostics proxy.
//
// Every decision starts with the static role gate. The permission mode then
// decides whether the host platform's permission listing is consulted and
// what happens when it cannot be:
//
//	off       role gate only
//	fallback  use the listing when reachable, otherwise allow on the role gate
//	strict    the listing must be reachable and must grant the permission
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"diagnostics-proxy/internal/rbac"
)

const DefaultLookupTimeout = 5 * time.Second

type Evaluator struct {
	lookup Lookup
	log    *slog.Logger
}

// NewEvaluator builds an evaluator. A nil lookup makes every remote check unavailable.
func NewEvaluator(lookup Lookup, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{lookup: lookup, log: log}
}

// Authorize never returns an error: lookup failures become reason codes.
func (e *Evaluator) Authorize(ctx context.Context, req Request) Decision {
	if !req.Roles.Intersects(req.AllowedRoles) {
		return Decision{Allowed: false, Mode: DecidedByRoles, Reason: ReasonForbiddenRole}
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeOff
	}
	if mode == ModeOff {
		return Decision{Allowed: true, Mode: DecidedByRoles}
	}

	records, err := e.remoteLookup(ctx, req)
	if err != nil {
		reason := classify(err)
		e.log.Warn("permission lookup did not complete",
			"user_id", req.UserID, "mode", string(mode), "reason", string(reason), "err", err)
		if mode == ModeFallback {
			return Decision{Allowed: true, Mode: DecidedByFallback, Reason: reason}
		}
		return Decision{Allowed: false, Mode: DecidedByPermission, Reason: reason}
	}

	if grants(records, req.PermissionCode, req.Roles) {
		return Decision{Allowed: true, Mode: DecidedByPermission}
	}
	return Decision{Allowed: false, Mode: DecidedByPermission, Reason: ReasonForbiddenPermission}
}

func (e *Evaluator) remoteLookup(ctx context.Context, req Request) (records []PermissionRecord, err error) {
	if e.lookup == nil {
		return nil, fmt.Errorf("%w: no lookup client", ErrLookupUnavailable)
	}
	if req.Forwarded.UserID == "" || req.Forwarded.AuthToken == "" {
		return nil, fmt.Errorf("%w: forwarded identity headers missing", ErrLookupUnavailable)
	}
	origin, err := ResolveOrigin(req.Origin, req.Forwarded)
	if err != nil {
		return nil, err
	}

	timeout := req.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			records, err = nil, fmt.Errorf("%w: panic: %v", ErrLookupFailed, p)
		}
	}()
	return e.lookup.ListPermissions(ctx, Target{
		Origin:    origin,
		UserID:    req.Forwarded.UserID,
		AuthToken: req.Forwarded.AuthToken,
	})
}

// classify maps any lookup error to a reason. Only ErrLookupUnavailable is
// "unavailable"; timeouts and everything else are "check failed".
func classify(err error) Reason {
	if errors.Is(err, ErrLookupUnavailable) {
		return ReasonPermissionUnavailable
	}
	return ReasonPermissionCheckFailed
}

func grants(records []PermissionRecord, code string, roles rbac.RoleSet) bool {
	for _, r := range records {
		if r.ID != code {
			continue
		}
		return rbac.NewRoleSet(r.Roles...).Intersects(roles)
	}
	return false
}
