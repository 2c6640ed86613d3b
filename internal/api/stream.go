package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"paper-trader/internal/events"
)

// Padding sizes that force proxies to flush SSE frames instead of
// buffering them.
const (
	initialPaddingBytes   = 2048
	heartbeatPaddingBytes = 512
)

// handleEventStream serves the engine events as server-sent events.
// Filtering: ?traders=<uuid>,<uuid> limits the stream to those traders.
func (s *Server) handleEventStream(c *gin.Context) {
	filter := events.Filter{}
	if raw := c.Query("traders"); raw != "" {
		filter.TraderIDs = map[uuid.UUID]bool{}
		for _, part := range strings.Split(raw, ",") {
			if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
				filter.TraderIDs[id] = true
			}
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	// Retry hint plus a fat initial comment so intermediaries start
	// flushing immediately.
	fmt.Fprintf(c.Writer, "retry: 2000\n")
	fmt.Fprintf(c.Writer, ": %s\n\n", strings.Repeat(" ", initialPaddingBytes))
	flusher.Flush()

	sub := s.engine.Bus().Subscribe(filter)
	defer sub.Close()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.C():
			if err := writeSSE(c.Writer, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w gin.ResponseWriter, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n", ev.Type, payload); err != nil {
		return err
	}
	if ev.Type == events.TypeHeartbeat {
		if _, err := fmt.Fprintf(w, ": %s\n", strings.Repeat(" ", heartbeatPaddingBytes)); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}
