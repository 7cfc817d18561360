package server

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

func (s *Server) AddRoutes(e *echo.Echo) {

	Identity := IdentityMiddleware(s.auth, s.Config.AuthRequired, s.Config.PublicPaths)
	OwsErrors := owsErrorMiddleware(s.log)
	ApiErrors := apiErrorMiddleware(s.log)

	e.GET("/healthz", s.handleHealth)
	e.GET("/ready", s.handleReady)

	ows := e.Group("/ows", OwsErrors, Identity)
	ows.Any("/:tenant/*", s.handleOws)

	api := e.Group("/api/:tenant/:service", ApiErrors, Identity)
	api.GET("", s.handleApiLanding)
	api.GET("/collections", s.handleApiCollections)
	api.GET("/collections/:id", s.handleApiCollection)
	api.GET("/collections/:id/items", s.handleApiItems)
	api.POST("/collections/:id/items", s.handleApiCreateItem)
	api.GET("/collections/:id/items/:fid", s.handleApiItem)
	api.PUT("/collections/:id/items/:fid", s.handleApiUpdateItem)
	api.PATCH("/collections/:id/items/:fid", s.handleApiUpdateItem)
	api.DELETE("/collections/:id/items/:fid", s.handleApiDeleteItem)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the service can actually serve tenants,
// i.e. the configuration directory is reachable.
func (s *Server) handleReady(c echo.Context) error {
	if _, err := os.Stat(s.Config.ConfigPath); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "config path not accessible"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
