package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/rbac"
	"diagnostics-proxy/pkg/logger"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	headerUserID         = "X-User-Id"
	headerAuthToken      = "X-Auth-Token"
	headerForwardedHost  = "X-Forwarded-Host"
	headerForwardedProto = "X-Forwarded-Proto"
)

// RequireAccessToken verifies the bridge token and injects the Identity into
// the request context. It does not authorize; that is the pipeline's job.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			abortUnauthenticated(c, "missing bearer token")
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		id := Identity{
			UserID:    claims.UserID,
			Username:  claims.Username,
			Roles:     rbac.NewRoleSet(claims.Roles...),
			Forwarded: forwarded(c, claims.UserID),
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))

		c.Set(logger.KeyUserID, id.UserID)

		c.Next()
	}
}

// forwarded reads the host's identity headers. Credentials for a user other
// than the token subject are dropped, so lookups never run as someone else.
func forwarded(c *gin.Context, subject string) access.Forwarded {
	f := access.Forwarded{
		UserID:    strings.TrimSpace(c.GetHeader(headerUserID)),
		AuthToken: strings.TrimSpace(c.GetHeader(headerAuthToken)),
		Host:      c.GetHeader(headerForwardedHost),
		Proto:     c.GetHeader(headerForwardedProto),
	}
	if f.UserID != subject {
		f.UserID, f.AuthToken = "", ""
	}
	return f
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.Set(logger.KeyErrorCode, "unauthenticated")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{"code": "unauthenticated", "message": msg},
	})
}
