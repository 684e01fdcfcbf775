package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"diagnostics-proxy/internal/httpapi"

	"github.com/gin-gonic/gin"
)

func TestRegisterRoutes_PublicEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	readyErr := error(nil)
	r := gin.New()
	registerRoutes(r, httpapi.Handlers{}, func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	}, func(context.Context) error { return readyErr })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}

	readyErr = errors.New("redis down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz degraded: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "diagproxy_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("protected route should require auth, got %d", w.Code)
	}
}
