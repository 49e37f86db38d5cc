package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorIDKey   contextKey = "actor_id"
	ActorRoleKey contextKey = "actor_role"
)

// DevActorIDHeader and DevActorRoleHeader let a developer pick the caller
// when running without a signing key.
const (
	DevActorIDHeader   = "X-Actor-ID"
	DevActorRoleHeader = "X-Actor-Role"
)

// Claims carries the caller identity. Subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper lets requests through unauthenticated when it returns true.
	Skipper func(echo.Context) bool
}

// ActorMiddleware validates an HS256 bearer token and stores the actor id and
// role on the request context.
func ActorMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" || claims.Role == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token is missing subject or role")
			}

			ctx := WithActor(c.Request().Context(), claims.Subject, claims.Role)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevActorMiddleware trusts the X-Actor-ID / X-Actor-Role headers and
// defaults to an admin when they are absent. Development only.
func DevActorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(DevActorIDHeader)
			role := c.Request().Header.Get(DevActorRoleHeader)
			if id == "" {
				id = "dev-admin"
			}
			if role == "" {
				role = "admin"
			}
			ctx := WithActor(c.Request().Context(), id, strings.ToLower(role))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func WithActor(ctx context.Context, id, role string) context.Context {
	ctx = context.WithValue(ctx, ActorIDKey, id)
	return context.WithValue(ctx, ActorRoleKey, role)
}

func ActorIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ActorIDKey).(string)
	return id
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(ActorRoleKey).(string)
	return role
}
