package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"vollahub/internal/hub"
	"vollahub/internal/logger"
	"vollahub/pkg/types"
)

func (s *Server) streamSourceEvents(c *gin.Context) {
	kind := types.CrawlKind(c.Param("kind"))
	events, unsubscribe, err := s.hub.Subscribe(kind)
	if err != nil {
		s.sourceError(c, err)
		return
	}
	defer unsubscribe()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.Debug("SSE write failed", logger.String("kind", string(kind)), logger.Error(err))
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			w.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w gin.ResponseWriter, ev hub.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.Flush()
	return nil
}
