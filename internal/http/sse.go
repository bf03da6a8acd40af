package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/events"
)

// handleEvents streams a run's events via Server-Sent Events.
//
// The stream replays every event published so far and then follows the run
// live. It ends after the execution_outcome event, or when the client
// disconnects. Archived runs are replayed in full and the stream ends.
//
// Example:
//
//	GET /api/v1/runs/{run_id}/events
//
//	id: 1
//	event: thinking
//	data: {"seq":1,"runId":"...","type":"thinking","thinking":{"phase":"strategy",...}}
//
//	id: 2
//	event: tool_call
//	data: {"seq":2,"runId":"...","type":"tool_call","tool_call":{"id":"call_1",...}}
func (s *Server) handleEvents(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	run, err := s.registry.Runs().Get(id)
	if err != nil {
		evs, herr := s.history(ctx, id)
		if herr != nil {
			return herr
		}
		setSSEHeaders(c)
		for _, e := range evs {
			if err := writeSSE(c, e); err != nil {
				return nil
			}
		}
		return nil
	}

	sub := run.Bus().Subscribe(true)
	defer sub.Close()
	setSSEHeaders(c)

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeSSE(c, e); err != nil {
				s.logger.Debug(ctx, "sse client write failed", zap.String("run_id", id), zap.Error(err))
				return nil
			}
			if e.Type == events.TypeExecutionOutcome {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-ctx.Done():
			// Client disconnected
			return nil
		}
	}
}

func setSSEHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

func writeSSE(c echo.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
