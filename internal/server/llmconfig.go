package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Core-65536/Project-Ghost/internal/llm"
)

// LLMConfigHandler reads and replaces the completion endpoint settings at
// runtime. The key never leaves the server unmasked.
type LLMConfigHandler struct {
	Provider Provider
}

func (h *LLMConfigHandler) Register(g *echo.Group) {
	g.GET("/llm/config", h.getConfig)
	g.POST("/llm/config", h.setConfig)
}

func (h *LLMConfigHandler) getConfig(c echo.Context) error {
	cfg, ok := h.Provider.Config()
	if !ok {
		return c.JSON(http.StatusOK, LLMConfigResponse{Status: "ok", Config: LLMConfigView{Configured: false}})
	}
	return c.JSON(http.StatusOK, LLMConfigResponse{
		Status: "ok",
		Config: LLMConfigView{
			BaseURL:      cfg.BaseURL,
			APIKeyMasked: cfg.MaskedKey(),
			Model:        cfg.Model,
			Configured:   cfg.Configured(),
		},
	})
}

func (h *LLMConfigHandler) setConfig(c echo.Context) error {
	var cfg llm.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	h.Provider.SetConfig(cfg)
	return c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}
