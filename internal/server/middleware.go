package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/gstflow/gstflow/internal/orgcontext"
)

const (
	HeaderOrg        = "X-Org-ID"
	HeaderCronSecret = "X-Cron-Secret"
)

// OrgContext resolves the active organization from the X-Org-ID header and
// injects it into the request context. Tenant-scoped services reject the
// request downstream when the header is absent.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			c.Next()
			return
		}

		orgID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization id"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CronAuth guards the cron trigger endpoints with a shared secret. An empty
// configured secret disables the check for local development.
func (s *Server) CronAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.CronSecret
		if secret == "" {
			c.Next()
			return
		}

		presented := strings.TrimSpace(c.GetHeader(HeaderCronSecret))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
