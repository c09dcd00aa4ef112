// Package logging sets up the structured logger and carries a request
// scoped entry through context.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// CorrelationHeader is read from and echoed on every request.
const CorrelationHeader = "X-Correlation-ID"

type ctxKey struct{}

// New returns a logger at the named level.  Outside dev the output is
// JSON.
func New(level, env string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if env == "dev" || env == "" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return l
}

// ToContext stores a log entry in ctx.
func ToContext(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the entry stored by ToContext, or the standard
// logger.
func FromContext(ctx context.Context) logrus.FieldLogger {
	if l, ok := ctx.Value(ctxKey{}).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

// RequestLogger tags each request with a correlation id, stores a request
// scoped entry in the request context and logs the outcome.
func RequestLogger(base logrus.FieldLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			correlationID := req.Header.Get(CorrelationHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			c.Response().Header().Set(CorrelationHeader, correlationID)

			entry := base.WithField("correlation_id", correlationID)
			c.SetRequest(req.WithContext(ToContext(req.Context(), entry)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := logrus.Fields{
				"method":  req.Method,
				"path":    c.Path(),
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
			}
			if uid, ok := c.Get("user_id").(string); ok && uid != "" {
				fields["user_id"] = uid
			}
			switch s := c.Response().Status; {
			case s >= 500:
				entry.WithFields(fields).WithError(err).Error("request failed")
			case s >= 400:
				entry.WithFields(fields).Warn("request rejected")
			default:
				entry.WithFields(fields).Info("request handled")
			}
			return nil
		}
	}
}
