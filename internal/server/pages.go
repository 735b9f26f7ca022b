package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/labstack/echo/v4"

	"github.com/Core-65536/Project-Ghost/internal/chunker"
	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

// PagesHandler serves the index, delete and list endpoints.
type PagesHandler struct {
	Splitter chunker.Splitter
	Encoder  Encoder
	Archive  Archive
	Logger   *log.Logger
}

func (h *PagesHandler) Register(g *echo.Group) {
	g.POST("/index", h.indexPage)
	g.POST("/delete", h.deletePage)
	g.GET("/list", h.listPages)
}

func (h *PagesHandler) indexPage(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}
	ctx := c.Request().Context()

	text := strings.TrimSpace(req.Text)
	if text == "" && strings.TrimSpace(req.HTML) != "" {
		text = h.extractReadableText(req.HTML, req.URL)
	}
	if text == "" {
		text = req.Title
	}
	if text == "" {
		return c.JSON(http.StatusOK, StatusResponse{
			Status:  "error",
			Message: "nothing to index: text and title are both empty",
		})
	}

	chunks := h.Splitter.Split(text)
	h.Logger.Printf("indexing %s (%q): %d runes -> %d chunks", req.URL, req.Title, len([]rune(text)), len(chunks))

	vectors, err := h.Encoder.EncodeBatch(ctx, chunks)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	page := tabs.Page{URL: req.URL, Title: req.Title, TabID: req.TabID, Favicon: req.Favicon}
	pageID, err := h.Archive.Write(ctx, page, chunks, vectors)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pagesIndexed.Inc()
	chunksIndexed.Add(float64(len(chunks)))
	return c.JSON(http.StatusOK, IndexResponse{Status: "ok", DocID: pageID, Chunks: len(chunks)})
}

// extractReadableText pulls the article text out of raw page HTML. Failures
// just return empty so indexing can fall back to the title.
func (h *PagesHandler) extractReadableText(html, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		h.Logger.Printf("readability extraction failed for %s: %v", pageURL, err)
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func (h *PagesHandler) deletePage(c echo.Context) error {
	var req DeleteRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	deleted, err := h.Archive.Delete(c.Request().Context(), req.URL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if deleted {
		pagesDeleted.Inc()
	}
	return c.JSON(http.StatusOK, DeleteResponse{Status: "ok", Deleted: deleted})
}

func (h *PagesHandler) listPages(c echo.Context) error {
	pages, err := h.Archive.ListAll(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if pages == nil {
		pages = []tabs.PageSummary{}
	}
	return c.JSON(http.StatusOK, ListResponse{Status: "ok", Pages: pages})
}
