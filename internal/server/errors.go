package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
	"github.com/qwc-services/qwc-ogc-service/internal/ogc"
)

// owsErrorMiddleware renders handler errors as OGC service exception
// documents instead of the default JSON error body.
func owsErrorMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return writeOwsError(c, log, err)
			}
			return nil
		}
	}
}

func writeOwsError(c echo.Context, log *zap.SugaredLogger, err error) error {
	status, code, message := classifyError(log, err)
	if status == http.StatusUnauthorized {
		c.Response().Header().Set("WWW-Authenticate", `Basic realm="OGC service"`)
	}
	return c.Blob(status, "text/xml; charset=utf-8", ogc.ExceptionReport(code, message))
}

// apiErrorMiddleware renders handler errors as JSON problems for the
// OGC API Features routes.
func apiErrorMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				status, code, message := classifyError(log, err)
				if status == http.StatusUnauthorized {
					c.Response().Header().Set("WWW-Authenticate", `Basic realm="OGC service"`)
				}
				return c.JSON(status, map[string]string{"code": code, "description": message})
			}
			return nil
		}
	}
}

func classifyError(log *zap.SugaredLogger, err error) (int, string, string) {
	var (
		requestErr     *domain.RequestError
		permissionErr  *domain.PermissionError
		transactionErr *domain.TransactionError
		configErr      *domain.ConfigError
		upstreamErr    *domain.UpstreamError
		httpErr        *echo.HTTPError
	)
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized, "AuthRequired", "Authentication required"
	case errors.As(err, &requestErr):
		return http.StatusBadRequest, requestErr.Code, requestErr.Message
	case errors.As(err, &permissionErr):
		return http.StatusForbidden, permissionErr.Code, permissionErr.Message
	case errors.As(err, &transactionErr):
		return http.StatusForbidden, "Forbidden", transactionErr.Error()
	case errors.As(err, &configErr):
		log.Errorw("service configuration", zap.Error(configErr))
		status := http.StatusInternalServerError
		if errors.Is(configErr, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		return status, domain.CodeServiceConfiguration, "Service configuration error"
	case errors.As(err, &upstreamErr):
		log.Errorw("upstream request", zap.Error(upstreamErr))
		return upstreamStatus(upstreamErr), "UnknownError",
			"The server encountered an internal error or misconfiguration " +
				"and was unable to complete your request."
	case errors.As(err, &httpErr):
		return httpErr.Code, http.StatusText(httpErr.Code), messageText(httpErr)
	default:
		log.Errorw("internal error", zap.Error(err))
		return http.StatusInternalServerError, "UnknownError", "Internal server error"
	}
}

func upstreamStatus(err *domain.UpstreamError) int {
	if err.Status >= http.StatusBadRequest {
		return err.Status
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func messageText(err *echo.HTTPError) string {
	if msg, ok := err.Message.(string); ok {
		return msg
	}
	return http.StatusText(err.Code)
}
