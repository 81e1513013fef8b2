package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/http/middleware"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/services"
)

type HealthcheckHandler struct{}

func NewHealthcheckHandler() *HealthcheckHandler { return &HealthcheckHandler{} }

func (h *HealthcheckHandler) Healthcheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pathUUID parses a uuid path param and writes the 400 itself on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, apierr.Newf(apierr.KindValidation, "", false, "invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// mustActor fetches the authenticated actor; auth middleware guarantees it on
// protected routes, so a miss is a wiring bug.
func mustActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorEnvelope{Error: APIError{Message: "missing or invalid token", Code: "unauthorized"}})
		return services.Actor{}, false
	}
	return actor, true
}
