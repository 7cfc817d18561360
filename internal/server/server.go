package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/qwc-services/qwc-ogc-service/internal/infrastructure/tenant"
	"github.com/qwc-services/qwc-ogc-service/internal/ogc"
	"github.com/qwc-services/qwc-ogc-service/internal/server/auth"
)

type Config struct {
	Debug                bool
	ConfigPath           string
	DefaultQgisServerURL string
	OapiQgisServerURL    string
	PublicOgcURLPattern  string
	NetworkTimeout       time.Duration
	AuthRequired         bool
	PublicPaths          []string
	IdentityParameter    string
	LegendFontSize       string
}

type Server struct {
	Config  Config
	echo    *echo.Echo
	log     *zap.SugaredLogger
	auth    *auth.Service
	tenants *tenant.Store
	marker  *ogc.MarkerTemplate
	client  *http.Client
}

type JSONSerializer struct{}

// Serialize converts an interface into a json and writes it to the response.
// You can optionally use the indent parameter to produce pretty JSONs.
func (d JSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := jsoniter.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

// Deserialize reads a JSON from a request body and converts it into an interface.
func (d JSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := jsoniter.NewDecoder(c.Request().Body).Decode(i)
	if ute, ok := err.(*json.UnmarshalTypeError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unmarshal type error: expected=%v, got=%v, field=%v, offset=%v", ute.Type, ute.Value, ute.Field, ute.Offset)).SetInternal(err)
	} else if se, ok := err.(*json.SyntaxError); ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Syntax error: offset=%v, error=%v", se.Offset, se.Error())).SetInternal(err)
	}
	return err
}

func NewServer(log *zap.SugaredLogger, cfg Config, as *auth.Service, tenants *tenant.Store, marker *ogc.MarkerTemplate) *Server {
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = &JSONSerializer{}

	p := prometheus.NewPrometheus("ogc", nil)
	p.Use(e)

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusInternalServerError {
			log.Error(err)
		}
	}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.Recover(),
		requestIDMiddleware(),
	)

	s := &Server{
		Config:  cfg,
		log:     log,
		echo:    e,
		auth:    as,
		tenants: tenants,
		marker:  marker,
		client:  &http.Client{Timeout: cfg.NetworkTimeout},
	}
	s.AddRoutes(e)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.auth.Close()
	return s.echo.Shutdown(ctx)
}
