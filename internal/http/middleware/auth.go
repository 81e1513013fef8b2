package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/services"
)

const actorKey = "docmind.actor"

// Claims is the expected token payload: tenant and user scoping plus the
// registered claims.
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(baseLog *logger.Logger) (*AuthMiddleware, error) {
	secret := strings.TrimSpace(envutil.GetEnv("JWT_SECRET", ""))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	return &AuthMiddleware{
		log:    baseLog.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}, nil
}

// RequireAuth authenticates the bearer token and stashes the actor on the
// gin context. The token may also arrive as ?token= since EventSource
// cannot set headers.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		actor, err := m.verify(tokenString)
		if err != nil {
			m.log.Debug("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func (m *AuthMiddleware) verify(tokenString string) (services.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return services.Actor{}, err
	}
	if !token.Valid {
		return services.Actor{}, fmt.Errorf("invalid token")
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return services.Actor{}, fmt.Errorf("bad tenant_id claim: %w", err)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return services.Actor{}, fmt.Errorf("bad user_id claim: %w", err)
	}
	actor := services.Actor{TenantID: tenantID, UserID: userID}
	if !actor.Valid() {
		return services.Actor{}, fmt.Errorf("empty identity claims")
	}
	return actor, nil
}

// ActorFrom returns the authenticated actor; ok=false on unauthenticated
// routes.
func ActorFrom(c *gin.Context) (services.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return services.Actor{}, false
	}
	actor, ok := v.(services.Actor)
	return actor, ok && actor.Valid()
}

func extractToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}
