package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"content-router/src/internal/common"
)

// RequestLoggerMiddleware logs one line per request:
// POST /api/select -> 200 OK (3ms) from 10.0.0.7
func RequestLoggerMiddleware(logger *common.SafeLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if req.URL.RawQuery != "" {
				path += "?" + req.URL.RawQuery
			}
			status := c.Response().Status
			line := fmt.Sprintf("%s %s -> %d %s (%dms) from %s", req.Method, path, status,
				http.StatusText(status), time.Since(start).Milliseconds(), c.RealIP())

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("%s", line)
			case req.URL.Path == "/health":
				logger.Debug("%s", line)
			default:
				logger.Info("%s", line)
			}
			return nil
		}
	}
}

// RecoverMiddleware turns handler panics into 500 responses
func RecoverMiddleware(logger *common.SafeLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Recovered from panic in %s %s: %v", c.Request().Method, c.Path(), r)
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}

// CORSMiddleware allows the configured origins, or any origin when none are set
func CORSMiddleware(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderContentType,
			echo.HeaderAuthorization,
		},
	})
}
