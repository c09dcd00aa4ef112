package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	l := New("debug", "prod")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = New("nonsense", "dev")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestFromContextFallsBack(t *testing.T) {
	assert.Equal(t, logrus.StandardLogger(), FromContext(context.Background()))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	e := echo.New()
	var seen logrus.FieldLogger
	e.GET("/x", func(c echo.Context) error {
		seen = FromContext(c.Request().Context())
		return c.NoContent(http.StatusTeapot)
	}, RequestLogger(base))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationHeader, "corr-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get(CorrelationHeader))
	require.NotNil(t, seen)
	assert.Contains(t, buf.String(), `"correlation_id":"corr-1"`)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), "request rejected")
}
