package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"diagnostics-proxy/internal/pipeline"
	"diagnostics-proxy/internal/views"
)

func (h Handlers) ListViews(c *gin.Context) {
	s, ok := h.admit(c, epViewsList)
	if !ok {
		return
	}
	list, err := h.Views.List(c.Request.Context(), s.Caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"views": list})
}

type saveViewRequest struct {
	Params map[string]any `json:"params"`
}

// SaveView stores the caller's named query. Params must pass the same
// normalization a live query does under the current guardrails.
func (h Handlers) SaveView(c *gin.Context) {
	s, ok := h.admit(c, epViewSave)
	if !ok {
		return
	}
	name := c.Param("name")
	if !views.ValidName(name) {
		writeError(c, pipeline.Invalid("name", views.ErrInvalidName.Error()))
		return
	}
	var req saveViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, pipeline.Invalid("body", "invalid json"))
		return
	}
	if _, err := s.Normalize(nil, req.Params); err != nil {
		writeError(c, err)
		return
	}

	v, created, err := h.Views.Save(c.Request.Context(), s.Caller.UserID, views.View{Name: name, Params: req.Params})
	switch {
	case errors.Is(err, views.ErrTooMany):
		writeError(c, pipeline.Invalid("name", err.Error()))
		return
	case err != nil:
		writeError(c, err)
		return
	}

	s.Complete(c.Request.Context(), map[string]any{"name": name, "created": created})
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, v)
}

func (h Handlers) DeleteView(c *gin.Context) {
	s, ok := h.admit(c, epViewDelete)
	if !ok {
		return
	}
	name := c.Param("name")
	err := h.Views.Delete(c.Request.Context(), s.Caller.UserID, name)
	switch {
	case errors.Is(err, views.ErrNotFound):
		writeError(c, pipeline.NotFound("view not found"))
		return
	case err != nil:
		writeError(c, err)
		return
	}
	s.Complete(c.Request.Context(), map[string]any{"name": name})
	c.Status(http.StatusNoContent)
}
