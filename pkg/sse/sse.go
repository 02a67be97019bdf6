package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// Writer 单个请求上的事件流
type Writer struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
	seq     int
}

// NewWriter 写入事件流响应头；重连间隔 retryMs 为 0 时不下发
func NewWriter(c *gin.Context, retryMs int) (*Writer, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sw := &Writer{w: c.Writer, flusher: flusher}
	if retryMs > 0 {
		if _, err := fmt.Fprintf(sw.w, "retry: %d\n\n", retryMs); err != nil {
			return nil, err
		}
	}
	flusher.Flush()
	return sw, nil
}

// Event 发送一条命名事件，id 自增
func (s *Writer) Event(name string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, name, b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Writer) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, "event: ping\ndata: {}\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
