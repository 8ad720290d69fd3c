package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// HeaderActorID carries the caller's identity as asserted by the upstream
// identity provider
const HeaderActorID = "X-Actor-ID"

const (
	actorKey   = "actor"
	actorIDKey = "actor_id"
)

// identityMiddleware resolves the caller against the actor directory.
// Websocket clients in browsers cannot set headers, so actor_id is also
// accepted as a query parameter.
func identityMiddleware(actors port.ActorRepository, logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			id = strings.TrimSpace(c.Query("actor_id"))
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + HeaderActorID + " header",
			})
			return
		}

		actor, err := actors.GetByID(c.Request.Context(), id)
		if err != nil {
			logger.Error("Failed to resolve actor", "actor_id", id, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
				Success: false,
				Error:   "failed to resolve actor",
			})
			return
		}
		if actor == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "unknown actor",
			})
			return
		}

		c.Set(actorKey, actor)
		c.Set(actorIDKey, actor.ID)
		c.Next()
	}
}

func currentActor(c *gin.Context) *entity.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(*entity.Actor); ok {
			return a
		}
	}
	return nil
}
