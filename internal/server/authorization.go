package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	obscontext "github.com/smallbiznis/instructorledger/internal/observability/context"
)

// Authentication happens at the gateway, which forwards the caller in these headers.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type ActorType
	ID   string
	Role string
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorUser:
		return fmt.Sprintf("user:%s", a.ID)
	case ActorSystem:
		return authorization.SystemActor
	default:
		return ""
	}
}

// ActorContext reads the gateway headers into the request context so logging,
// audit and authorization see the same caller.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromHeaders(c)
		if ok {
			ctx := obscontext.WithActor(c.Request.Context(), string(actor.Type), actor.ID, actor.Role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func actorFromHeaders(c *gin.Context) (Actor, bool) {
	id := strings.TrimSpace(c.GetHeader(HeaderActorID))
	role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
	if id == "" {
		return Actor{}, false
	}
	if role == authorization.RoleSystem {
		return Actor{Type: ActorSystem, ID: id, Role: role}, true
	}
	return Actor{Type: ActorUser, ID: id, Role: role}, true
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	actorType, id := obscontext.ActorFromContext(c.Request.Context())
	if id == "" {
		return Actor{}, false
	}
	return Actor{
		Type: ActorType(actorType),
		ID:   id,
		Role: obscontext.RoleFromContext(c.Request.Context()),
	}, true
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.subject(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// actorName is recorded on obligations and batches as their author.
func actorName(c *gin.Context) string {
	actor, ok := actorFromContext(c)
	if !ok {
		return ""
	}
	return actor.subject()
}
