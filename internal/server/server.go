// Package server exposes the tab archive over HTTP for the Chrome
// extension: indexing, search, the agent stream and provider configuration.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Core-65536/Project-Ghost/internal/agent"
	"github.com/Core-65536/Project-Ghost/internal/chunker"
	"github.com/Core-65536/Project-Ghost/internal/llm"
	"github.com/Core-65536/Project-Ghost/internal/search"
	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

const serviceName = "Project Ghost RAG Backend"

// Encoder embeds chunk and query text.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Archive is the indexed tab store behind the page endpoints.
type Archive interface {
	Write(ctx context.Context, page tabs.Page, chunks []string, vectors [][]float32) (string, error)
	Query(ctx context.Context, vector []float32, k int, withText bool) ([]tabs.SearchResult, error)
	Delete(ctx context.Context, url string) (bool, error)
	ListAll(ctx context.Context) ([]tabs.PageSummary, error)
}

// Provider exposes the runtime-mutable completion endpoint settings.
type Provider interface {
	Config() (llm.Config, bool)
	SetConfig(llm.Config)
}

// Retriever runs the multi-stage search pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (search.Retrieval, error)
}

// AgentRunner starts one reasoning run and streams its events.
type AgentRunner interface {
	Run(ctx context.Context, query string) <-chan agent.Event
}

// Services bundles the collaborators the HTTP layer needs.
type Services struct {
	Splitter  chunker.Splitter
	Encoder   Encoder
	Archive   Archive
	Provider  Provider
	Retriever Retriever
	Agent     AgentRunner
	TopK      int
	Logger    *log.Logger
}

// New builds the echo engine with every route registered. allowOrigins
// defaults to the wildcard so the extension can call from any page.
func New(svc Services, allowOrigins []string) *echo.Echo {
	logger := svc.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	if svc.TopK <= 0 {
		svc.TopK = search.DefaultTopK
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, AliveResponse{Status: "alive", Service: serviceName})
	})
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	(&PagesHandler{Splitter: svc.Splitter, Encoder: svc.Encoder, Archive: svc.Archive, Logger: logger}).Register(api)
	(&SearchHandler{Encoder: svc.Encoder, Archive: svc.Archive, Retriever: svc.Retriever, TopK: svc.TopK, Logger: logger}).Register(api)
	(&LLMConfigHandler{Provider: svc.Provider}).Register(api)
	(&AgentHandler{Agent: svc.Agent, Logger: logger}).Register(api)
	return e
}
