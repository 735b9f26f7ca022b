package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

// SearchHandler serves the plain vector search and the LLM-assisted search.
type SearchHandler struct {
	Encoder   Encoder
	Archive   Archive
	Retriever Retriever
	TopK      int
	Logger    *log.Logger
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/llm-search", h.llmSearch)
}

func (h *SearchHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	k := req.TopK
	if k <= 0 {
		k = h.TopK
	}
	ctx := c.Request().Context()

	vector, err := h.Encoder.Encode(ctx, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	results, err := h.Archive.Query(ctx, vector, k, false)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []tabs.SearchResult{}
	}
	searches.WithLabelValues("plain").Inc()
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (h *SearchHandler) llmSearch(c echo.Context) error {
	var req LLMSearchRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	k := req.TopK
	if k <= 0 {
		k = h.TopK
	}

	ret, err := h.Retriever.Retrieve(c.Request().Context(), req.Query, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Chunk text is recall-internal. The extension only renders metadata.
	results := make([]tabs.SearchResult, 0, len(ret.Results))
	for _, r := range ret.Results {
		r.Text = ""
		results = append(results, r)
	}
	searches.WithLabelValues("llm").Inc()
	return c.JSON(http.StatusOK, LLMSearchResponse{
		Keywords: ret.Keywords,
		Results:  results,
		LLMError: ret.LLMError,
	})
}
