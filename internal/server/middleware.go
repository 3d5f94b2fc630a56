package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/printora/internal/actorcontext"
)

// ActorContext lifts the identity headers set by the auth gateway into the
// request context. The gateway strips these headers from outside traffic,
// so their presence here is trusted.
func (s *Server) ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		employeeID, errEmployee := snowflake.ParseString(strings.TrimSpace(c.GetHeader("X-Employee-Id")))
		tenantID, errTenant := snowflake.ParseString(strings.TrimSpace(c.GetHeader("X-Tenant-Id")))
		if errEmployee != nil || errTenant != nil {
			c.Next()
			return
		}

		actor := actorcontext.Actor{
			EmployeeID: employeeID,
			Role:       strings.ToLower(strings.TrimSpace(c.GetHeader("X-Role"))),
			TenantID:   tenantID,
		}
		ctx := actorcontext.WithActor(c.Request.Context(), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := actorcontext.ActorFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorcontext.ActorFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !actor.IsAdmin() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}
