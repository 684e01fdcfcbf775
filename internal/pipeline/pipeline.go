// Package pipeline is the shared control flow of every authenticated entry
// point: authorize, audit denials, rate limit, then hand a Session to the
// handler for normalization, redaction and the final audit entry.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/audit"
	"diagnostics-proxy/internal/metrics"
	"diagnostics-proxy/internal/query"
	"diagnostics-proxy/internal/ratelimit"
	"diagnostics-proxy/internal/rbac"
	"diagnostics-proxy/internal/redact"
	"diagnostics-proxy/internal/settings"
	"diagnostics-proxy/pkg/logger"
)

// Caller is the authenticated identity of one request.
type Caller struct {
	UserID    string
	Username  string
	Roles     rbac.RoleSet
	Forwarded access.Forwarded
}

// Endpoint describes how an entry point passes through the pipeline.
type Endpoint struct {
	Action string

	// Class is the rate-limiter budget; empty means not limited.
	Class ratelimit.Class

	// Channel receives the audit entries. Denials are always recorded;
	// allowed outcomes only when Audited is set.
	Channel string
	Audited bool
}

type Authorizer interface {
	Authorize(ctx context.Context, req access.Request) access.Decision
}

type Limiter interface {
	CheckAndIncrement(ctx context.Context, userID string, class ratelimit.Class, limit int, window time.Duration, now time.Time) (ratelimit.Result, error)
}

type AuditLog interface {
	Append(ctx context.Context, channel string, e audit.Entry, retentionDays, maxEntries int) error
}

type Pipeline struct {
	settings settings.Source
	authz    Authorizer
	limiter  Limiter
	audit    AuditLog
	slots    Slots
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Pipeline)

// WithSlots enables the per-user concurrent query cap.
func WithSlots(s Slots) Option { return func(p *Pipeline) { p.slots = s } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func New(src settings.Source, authz Authorizer, limiter Limiter, auditLog AuditLog, log *slog.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		settings: src,
		authz:    authz,
		limiter:  limiter,
		audit:    auditLog,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Session is an admitted request. Settings are fixed for its lifetime.
type Session struct {
	Caller   Caller
	Settings settings.Settings
	Decision access.Decision
	Started  time.Time

	p   *Pipeline
	ep  Endpoint
	log *slog.Logger
}

// Admit authorizes the caller and applies the rate limit. A denied decision is
// audited before the error is returned. The returned error is always *Error.
func (p *Pipeline) Admit(ctx context.Context, c Caller, ep Endpoint) (*Session, error) {
	if c.UserID == "" {
		return nil, Unauthenticated("caller identity missing")
	}
	log := logger.From(ctx, p.log)
	cfg, err := settings.Load(ctx, p.settings)
	if err != nil {
		log.Error("settings unavailable", "action", ep.Action, "err", err)
		return nil, newError(CodeInternal, "settings unavailable", err)
	}
	if len(cfg.Invalid) > 0 {
		log.Warn("malformed settings replaced by defaults", "keys", cfg.Invalid)
	}

	now := p.now()
	decision := p.authz.Authorize(ctx, cfg.AccessRequest(c.UserID, c.Roles, c.Forwarded))
	metrics.AuthzDecisions.WithLabelValues(string(decision.Mode), string(decision.Reason), strconv.FormatBool(decision.Allowed)).Inc()

	if !decision.Allowed {
		log.Warn("access denied",
			"action", ep.Action, "user_id", c.UserID, "mode", string(decision.Mode), "reason", string(decision.Reason))
		scope := map[string]any{"mode": string(decision.Mode), "permission_mode": string(cfg.PermissionMode)}
		entry := audit.Denied(ep.Action, c.UserID, string(decision.Reason), scope)
		p.appendAudit(ctx, log, channelOf(ep), entry, cfg)
		return nil, denied(decision.Reason)
	}
	log.Debug("access granted",
		"action", ep.Action, "user_id", c.UserID, "mode", string(decision.Mode), "reason", string(decision.Reason))

	if ep.Class != "" {
		limit := cfg.RateLimitAction
		if ep.Class == ratelimit.ClassQuery {
			limit = cfg.RateLimitQuery
		}
		res, err := p.limiter.CheckAndIncrement(ctx, c.UserID, ep.Class, limit, cfg.RateLimitWindow, now)
		if err != nil {
			log.Error("rate limiter failed", "action", ep.Action, "user_id", c.UserID, "err", err)
			return nil, newError(CodeInternal, "rate limiter unavailable", err)
		}
		if !res.Allowed {
			metrics.RateLimitRejections.WithLabelValues(string(ep.Class)).Inc()
			log.Warn("rate limited", "action", ep.Action, "user_id", c.UserID, "retry_after_ms", res.RetryAfterMs)
			return nil, &Error{
				Code:         CodeRateLimited,
				Message:      fmt.Sprintf("too many %s requests, retry later", ep.Class),
				RetryAfterMs: res.RetryAfterMs,
			}
		}
	}

	return &Session{Caller: c, Settings: cfg, Decision: decision, Started: now, p: p, ep: ep, log: log}, nil
}

func channelOf(ep Endpoint) string {
	if ep.Channel == "" {
		return audit.ChannelAdmin
	}
	return ep.Channel
}

// appendAudit records e. Failures are logged and counted, not returned: the
// trail records decisions and must not turn a finished request into an error.
func (p *Pipeline) appendAudit(ctx context.Context, log *slog.Logger, channel string, e audit.Entry, cfg settings.Settings) {
	err := p.audit.Append(ctx, channel, e, cfg.AuditRetentionDays, cfg.AuditMaxEntries)
	if err != nil {
		metrics.AuditWrites.WithLabelValues(channel, "error").Inc()
		log.Error("audit append failed", "channel", channel, "action", e.Action, "user_id", e.UserID, "err", err)
		return
	}
	metrics.AuditWrites.WithLabelValues(channel, "ok").Inc()
}

// Normalize validates the caller's query parameters against the guardrails.
func (s *Session) Normalize(params url.Values, body map[string]any) (query.Normalized, error) {
	q, err := query.Normalize(params, body, s.Settings.Guardrails(), s.Started)
	if err != nil {
		return query.Normalized{}, AsError(err)
	}
	return q, nil
}

// Selector returns the configured required selector once it has been validated.
func (s *Session) Selector() (string, error) {
	if err := query.ValidateSelector(s.Settings.RequiredSelector); err != nil {
		return "", AsError(err)
	}
	return s.Settings.RequiredSelector, nil
}

// Redact masks one message under the session's policy.
func (s *Session) Redact(message string) redact.Result {
	r := redact.Redact(message, s.Settings.Redaction())
	if r.RedactionCount > 0 {
		metrics.Redactions.Add(float64(r.RedactionCount))
	}
	return r
}

// QueryContext bounds a log backend call by the query timeout.
func (s *Session) QueryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Settings.QueryTimeout)
}

// HostContext bounds a host platform call by the lookup timeout.
func (s *Session) HostContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Settings.LookupTimeout)
}

// HostTarget resolves where host platform calls go for this caller.
func (s *Session) HostTarget() (access.Target, error) {
	f := s.Caller.Forwarded
	if f.UserID == "" || f.AuthToken == "" {
		return access.Target{}, newError(CodeUpstream, "forwarded identity headers missing", access.ErrLookupUnavailable)
	}
	origin, err := access.ResolveOrigin(s.Settings.WorkspaceOrigin, f)
	if err != nil {
		return access.Target{}, newError(CodeUpstream, "workspace origin unresolvable", err)
	}
	return access.Target{Origin: origin, UserID: f.UserID, AuthToken: f.AuthToken}, nil
}

// Upstream reports a failed call to target ("loki" or "host") as upstream_error.
func (s *Session) Upstream(target string, err error) *Error {
	metrics.UpstreamErrors.WithLabelValues(target).Inc()
	s.log.Error("upstream call failed", "action", s.ep.Action, "target", target, "user_id", s.Caller.UserID, "err", err)
	return newError(CodeUpstream, target+" request failed", err)
}

// Complete records the allowed outcome. Scope must not carry log content.
func (s *Session) Complete(ctx context.Context, scope map[string]any) {
	if !s.ep.Audited {
		return
	}
	if s.Decision.Reason != access.ReasonNone {
		if scope == nil {
			scope = map[string]any{}
		}
		scope["authz_degraded"] = string(s.Decision.Reason)
	}
	s.p.appendAudit(ctx, s.log, channelOf(s.ep), audit.Allowed(s.ep.Action, s.Caller.UserID, scope), s.Settings)
}
