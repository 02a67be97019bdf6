package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFramesEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("GET", "/events", nil)

	w, err := NewWriter(c, 3000)
	require.NoError(t, err)
	require.NoError(t, w.Event("chunk", map[string]int{"n": 1}))
	require.NoError(t, w.Ping())
	require.NoError(t, w.Event("done", map[string]bool{"ok": true}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"retry: 3000\n\n"+
			"id: 1\nevent: chunk\ndata: {\"n\":1}\n\n"+
			"event: ping\ndata: {}\n\n"+
			"id: 2\nevent: done\ndata: {\"ok\":true}\n\n",
		rec.Body.String())
}
