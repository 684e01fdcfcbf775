package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"diagnostics-proxy/internal/loki"
	"diagnostics-proxy/internal/query"
)

type queryLine struct {
	Timestamp string            `json:"ts"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type queryResponse struct {
	Query      query.Normalized `json:"query"`
	Lines      []queryLine      `json:"lines"`
	Redactions int              `json:"redactions"`
	Truncated  bool             `json:"truncated"`
}

// Query runs a bounded log query. Parameters come from the URL query and/or
// a JSON object body.
func (h Handlers) Query(c *gin.Context) {
	s, ok := h.admit(c, epQuery)
	if !ok {
		return
	}
	body, err := decodeObject(c)
	if err != nil {
		writeError(c, err)
		return
	}
	q, err := s.Normalize(c.Request.URL.Query(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	selector, err := s.Selector()
	if err != nil {
		writeError(c, err)
		return
	}

	release, err := s.AcquireQuerySlot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	defer release()

	ctx, cancel := s.QueryContext(c.Request.Context())
	defer cancel()
	res, err := h.Logs.QueryRange(ctx, loki.Request{
		Query: query.BuildLogQL(selector, q),
		Start: q.Start,
		End:   q.End,
		Limit: q.Limit,
	})
	if err != nil {
		writeError(c, s.Upstream("loki", err))
		return
	}

	out := queryResponse{Query: q, Lines: make([]queryLine, 0, len(res.Lines)), Truncated: res.Truncated}
	for _, l := range res.Lines {
		r := s.Redact(l.Line)
		out.Redactions += r.RedactionCount
		out.Lines = append(out.Lines, queryLine{
			Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano),
			Line:      r.Message,
			Labels:    l.Labels,
		})
	}

	scope := q.Scope()
	scope["lines"] = len(out.Lines)
	scope["redactions"] = out.Redactions
	scope["truncated"] = out.Truncated
	s.Complete(c.Request.Context(), scope)

	c.JSON(http.StatusOK, out)
}
