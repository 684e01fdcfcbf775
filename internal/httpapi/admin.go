package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"diagnostics-proxy/internal/audit"
	"diagnostics-proxy/internal/hostapi"
	"diagnostics-proxy/internal/pipeline"
)

// AuditLog reads one audit channel with optional user and outcome filters.
func (h Handlers) AuditLog(c *gin.Context) {
	s, ok := h.admit(c, epAuditRead)
	if !ok {
		return
	}

	channel := c.DefaultQuery("channel", audit.ChannelQuery)
	if channel != audit.ChannelQuery && channel != audit.ChannelAdmin {
		writeError(c, pipeline.Invalid("channel", "must be query or admin"))
		return
	}
	f := audit.Filter{UserID: strings.TrimSpace(c.Query("user_id")), Outcome: audit.Outcome(c.Query("outcome"))}
	if f.Outcome != "" && !f.Outcome.Valid() {
		writeError(c, pipeline.Invalid("outcome", "must be allowed or denied"))
		return
	}
	var err error
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		writeError(c, err)
		return
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		writeError(c, err)
		return
	}

	page, err := h.Audit.Read(c.Request.Context(), channel, f)
	if err != nil {
		writeError(c, err)
		return
	}

	s.Complete(c.Request.Context(), map[string]any{
		"channel":  channel,
		"filtered": f.UserID != "" || f.Outcome != "",
		"total":    page.Total,
	})
	c.JSON(http.StatusOK, page)
}

// Rooms lists the rooms the caller can see on the host platform.
func (h Handlers) Rooms(c *gin.Context) {
	s, ok := h.admit(c, epRoomsList)
	if !ok {
		return
	}
	target, err := s.HostTarget()
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.HostContext(c.Request.Context())
	defer cancel()
	rooms, err := h.Host.Rooms(ctx, target)
	if err != nil {
		writeError(c, s.Upstream("host", err))
		return
	}
	s.Complete(c.Request.Context(), map[string]any{"rooms": len(rooms)})
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// Threads lists the threads of one room.
func (h Handlers) Threads(c *gin.Context) {
	s, ok := h.admit(c, epThreadsList)
	if !ok {
		return
	}
	roomID := c.Param("room_id")
	target, err := s.HostTarget()
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.HostContext(c.Request.Context())
	defer cancel()
	threads, err := h.Host.Threads(ctx, target, roomID)
	if err != nil {
		writeError(c, s.Upstream("host", err))
		return
	}
	s.Complete(c.Request.Context(), map[string]any{"room_id": roomID, "threads": len(threads)})
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

type rowActionRequest struct {
	Action   string `json:"action"`
	RoomID   string `json:"room_id"`
	ThreadID string `json:"thread_id,omitempty"`
	Line     struct {
		Timestamp string            `json:"ts"`
		Text      string            `json:"text"`
		Labels    map[string]string `json:"labels,omitempty"`
	} `json:"line"`
}

// RowAction shares one log line into a room or thread. The text is redacted
// before it leaves the proxy.
func (h Handlers) RowAction(c *gin.Context) {
	s, ok := h.admit(c, epRowAction)
	if !ok {
		return
	}
	var req rowActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, pipeline.Invalid("body", "invalid json"))
		return
	}
	if req.Action != "share" {
		writeError(c, pipeline.Invalid("action", "unsupported action; supported: share"))
		return
	}
	if req.RoomID == "" {
		writeError(c, pipeline.Invalid("room_id", "room_id required"))
		return
	}
	if strings.TrimSpace(req.Line.Text) == "" {
		writeError(c, pipeline.Invalid("line.text", "line text required"))
		return
	}

	r := s.Redact(req.Line.Text)
	text := r.Message
	if req.Line.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, req.Line.Timestamp)
		if err != nil {
			writeError(c, pipeline.Invalid("line.ts", "must be an RFC 3339 timestamp"))
			return
		}
		text = fmt.Sprintf("`%s` %s", ts.UTC().Format(time.RFC3339Nano), r.Message)
	}

	target, err := s.HostTarget()
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.HostContext(c.Request.Context())
	defer cancel()
	msgID, err := h.Host.PostMessage(ctx, target, hostapi.Message{RoomID: req.RoomID, ThreadID: req.ThreadID, Text: text})
	if err != nil {
		writeError(c, s.Upstream("host", err))
		return
	}

	s.Complete(c.Request.Context(), map[string]any{
		"action":     req.Action,
		"room_id":    req.RoomID,
		"thread_id":  req.ThreadID,
		"redactions": r.RedactionCount,
	})
	c.JSON(http.StatusOK, gin.H{"message_id": msgID, "redactions": r.RedactionCount})
}
