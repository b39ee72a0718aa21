package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	applogger "FuturesPilot/pkg/logger"
)

// RequestLogging logs every HTTP request at debug level, and mutations at
// info since they move positions or the active strategy.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			fields := []applogger.Field{
				applogger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency", time.Since(start)),
			}
			if req.Method == http.MethodPost {
				l.Info("http mutation", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
