package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("production", "", &buf)
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))

	l = NewWithWriter("local", "", &buf)
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))

	l = NewWithWriter("local", "warn", &buf)
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), From(context.Background()))

	l := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	assert.Equal(t, l, From(With(context.Background(), l)))
}

func TestMiddleware_RequestIDReachesHandlerLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("production", "info", &buf)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		FromGin(c).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "rid-1", w.Header().Get(headerRequestID))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		assert.Equal(t, "rid-1", rec["request_id"])
	}
}
