package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v2"
	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qwc-services/qwc-ogc-service/internal/infrastructure/tenant"
	"github.com/qwc-services/qwc-ogc-service/internal/ogc"
	"github.com/qwc-services/qwc-ogc-service/internal/server"
	"github.com/qwc-services/qwc-ogc-service/internal/server/auth"
)

func Serve() error {
	cfg := struct {
		Ogc struct {
			Debug                bool          `conf:"default:false"`
			ConfigPath           string        `conf:"default:/srv/qwc_service/config"`
			DefaultQgisServerURL string        `conf:"default:http://localhost:8001/ows/"`
			OapiQgisServerURL    string        `conf:"default:http://localhost:8001/wfs3/"`
			PublicOgcURLPattern  string        `conf:"default:$origin$/.*/?$mountpoint$"`
			NetworkTimeout       time.Duration `conf:"default:30s"`
			IdentityParameter    string
			LegendFontSize       string
			MarkerTemplate       string
			MarkerParams         string
		}
		Auth struct {
			Required       bool `conf:"default:false"`
			PublicPaths    []string
			LoginVerifyURL []string
			CacheTTL       time.Duration `conf:"default:60s"`
		}
		Web struct {
			ShutdownTimeout time.Duration `conf:"default:20s"`
			APIHost         string        `conf:"default:0.0.0.0:5013"`
		}
		Redis struct {
			Addr     string // "redis:6379", empty disables the shared auth cache
			Network  string // "unix"
			Password string `conf:"mask"`
			DB       int    `conf:"default:0"`
		}
	}{}

	const prefix = "OGC"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}
	logLevel := zap.InfoLevel
	if cfg.Ogc.Debug {
		logLevel = zap.DebugLevel
	}
	log, err := createLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Network:  cfg.Redis.Network,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	var markerParams []ogc.MarkerParam
	if cfg.Ogc.MarkerParams != "" {
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(cfg.Ogc.MarkerParams, &markerParams); err != nil {
			return fmt.Errorf("parsing marker params: %w", err)
		}
	}
	marker := ogc.NewMarkerTemplate(cfg.Ogc.MarkerTemplate, markerParams, os.LookupEnv)

	conf := server.Config{
		Debug:                cfg.Ogc.Debug,
		ConfigPath:           cfg.Ogc.ConfigPath,
		DefaultQgisServerURL: cfg.Ogc.DefaultQgisServerURL,
		OapiQgisServerURL:    cfg.Ogc.OapiQgisServerURL,
		PublicOgcURLPattern:  cfg.Ogc.PublicOgcURLPattern,
		NetworkTimeout:       cfg.Ogc.NetworkTimeout,
		AuthRequired:         cfg.Auth.Required,
		PublicPaths:          cfg.Auth.PublicPaths,
		IdentityParameter:    cfg.Ogc.IdentityParameter,
		LegendFontSize:       cfg.Ogc.LegendFontSize,
	}

	tenants := tenant.NewStore(log, cfg.Ogc.ConfigPath)
	authServ := auth.NewService(log, cfg.Auth.LoginVerifyURL, cfg.Auth.CacheTTL, cfg.Ogc.NetworkTimeout, rdb)

	s := server.NewServer(log, conf, authServ, tenants, marker)

	go func() {
		if err := s.ListenAndServe(cfg.Web.APIHost); err != nil && err != http.ErrServerClosed {
			log.Fatalf("shutting down the server: %v", err)
		}
	}()
	// Wait for interrupt signal to gracefully shutdown the server.
	// Use a buffered channel to avoid missing signals as recommended for signal.Notify
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infof("Received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
	log.Sync()
	return nil
}

func createLogger(level zapcore.Level) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.Level.SetLevel(level)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	log := logger.Sugar()
	return log, nil
}
