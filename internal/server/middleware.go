package server

import (
	"strings"

	"github.com/gofrs/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
	"github.com/qwc-services/qwc-ogc-service/internal/server/auth"
)

const identityContextKey = "identity"

func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			id, err := uuid.NewV4()
			if err != nil {
				return ""
			}
			return id.String()
		},
	})
}

// IdentityMiddleware resolves the request identity from Basic
// credentials and optionally enforces authentication everywhere
// outside the configured public paths.
func IdentityMiddleware(a *auth.Service, authRequired bool, publicPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := a.Identify(c.Request())
			if err != nil {
				return err
			}
			c.Set(identityContextKey, identity)
			if authRequired && !identity.Authenticated() && !publicPath(publicPaths, c.Request().URL.Path) {
				return domain.ErrAuthRequired
			}
			return next(c)
		}
	}
}

func publicPath(publicPaths []string, path string) bool {
	for _, p := range publicPaths {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func requestIdentity(c echo.Context) domain.Identity {
	if identity, ok := c.Get(identityContextKey).(domain.Identity); ok {
		return identity
	}
	return domain.Anonymous()
}
