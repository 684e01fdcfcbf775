package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/audit"
	"diagnostics-proxy/internal/auth"
	"diagnostics-proxy/internal/hostapi"
	"diagnostics-proxy/internal/loki"
	"diagnostics-proxy/internal/pipeline"
	"diagnostics-proxy/internal/ratelimit"
	"diagnostics-proxy/internal/views"
	"diagnostics-proxy/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: admit through the pipeline, call the collaborator, redact,
// complete, return JSON.
type Handlers struct {
	Pipeline *pipeline.Pipeline
	Logs     LogBackend
	Host     HostPlatform
	Audit    AuditReader
	Views    ViewStore
}

type LogBackend interface {
	QueryRange(ctx context.Context, r loki.Request) (loki.Result, error)
}

type HostPlatform interface {
	Rooms(ctx context.Context, t access.Target) ([]hostapi.Room, error)
	Threads(ctx context.Context, t access.Target, roomID string) ([]hostapi.Thread, error)
	PostMessage(ctx context.Context, t access.Target, m hostapi.Message) (string, error)
}

type AuditReader interface {
	Read(ctx context.Context, channel string, f audit.Filter) (audit.Page, error)
}

type ViewStore interface {
	List(ctx context.Context, userID string) ([]views.View, error)
	Save(ctx context.Context, userID string, v views.View) (views.View, bool, error)
	Delete(ctx context.Context, userID, name string) error
}

// Entry points and how each passes through the pipeline.
var (
	epQuery       = pipeline.Endpoint{Action: "query", Class: ratelimit.ClassQuery, Channel: audit.ChannelQuery, Audited: true}
	epAuditRead   = pipeline.Endpoint{Action: "audit_read", Channel: audit.ChannelAdmin, Audited: true}
	epRoomsList   = pipeline.Endpoint{Action: "rooms_list", Class: ratelimit.ClassAction, Channel: audit.ChannelAdmin, Audited: true}
	epThreadsList = pipeline.Endpoint{Action: "threads_list", Class: ratelimit.ClassAction, Channel: audit.ChannelAdmin, Audited: true}
	epViewsList   = pipeline.Endpoint{Action: "views_list", Channel: audit.ChannelAdmin}
	epViewSave    = pipeline.Endpoint{Action: "view_save", Class: ratelimit.ClassAction, Channel: audit.ChannelAdmin, Audited: true}
	epViewDelete  = pipeline.Endpoint{Action: "view_delete", Class: ratelimit.ClassAction, Channel: audit.ChannelAdmin, Audited: true}
	epRowAction   = pipeline.Endpoint{Action: "row_action", Class: ratelimit.ClassAction, Channel: audit.ChannelAdmin, Audited: true}
)

// admit runs the pipeline for the authenticated caller. On failure the error
// response is already written.
func (h Handlers) admit(c *gin.Context, ep pipeline.Endpoint) (*pipeline.Session, bool) {
	if h.Pipeline == nil {
		writeError(c, errors.New("pipeline not configured"))
		return nil, false
	}
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		writeError(c, pipeline.Unauthenticated("caller identity missing"))
		return nil, false
	}
	s, err := h.Pipeline.Admit(c.Request.Context(), pipeline.Caller{
		UserID:    id.UserID,
		Username:  id.Username,
		Roles:     id.Roles,
		Forwarded: id.Forwarded,
	}, ep)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	c.Set(logger.KeyDecidedBy, string(s.Decision.Mode))
	return s, true
}

// writeError renders the error envelope. 5xx causes are attached to the Gin
// context so the request log records them.
func writeError(c *gin.Context, err error) {
	pe := pipeline.AsError(err)
	status := pe.HTTPStatus()
	c.Set(logger.KeyErrorCode, string(pe.Code))
	if pe.Code == pipeline.CodeRateLimited && pe.RetryAfterMs > 0 {
		c.Header("Retry-After", strconv.FormatInt((pe.RetryAfterMs+999)/1000, 10))
	}
	if status >= http.StatusInternalServerError && pe.Err != nil {
		_ = c.Error(pe.Err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": pe})
}

// decodeObject reads an optional JSON object body. An empty body is nil.
func decodeObject(c *gin.Context) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		return nil, pipeline.Invalid("body", "could not read request body")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pipeline.Invalid("body", "body must be a JSON object")
	}
	return body, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, pipeline.Invalid(key, "must be a non-negative integer")
	}
	return n, nil
}
