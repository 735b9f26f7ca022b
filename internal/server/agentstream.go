package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Core-65536/Project-Ghost/internal/agent"
)

// AgentHandler streams one agent run over SSE. Each event is a single
// data frame; the stream closes when the run finishes or the client
// disconnects.
type AgentHandler struct {
	Agent  AgentRunner
	Logger *log.Logger
}

func (h *AgentHandler) Register(g *echo.Group) {
	g.POST("/agent/chat", h.chat)
}

func (h *AgentHandler) chat(c echo.Context) error {
	var req AgentChatRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	agentRuns.Inc()
	// Run watches the request context, so a dropped client also stops
	// the producing goroutine.
	for ev := range h.Agent.Run(c.Request().Context(), req.Query) {
		if ev.Type == agent.EventAnswer {
			if steps, ok := ev.Data["steps_used"].(int); ok {
				agentSteps.Observe(float64(steps))
			}
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.Logger.Printf("agent event not serializable: %v", err)
			continue
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			h.Logger.Printf("agent stream write: %v", err)
			return nil
		}
		flusher.Flush()
	}
	return nil
}
