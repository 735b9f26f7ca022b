package server

import "github.com/Core-65536/Project-Ghost/internal/tabs"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AliveResponse is the root liveness payload.
type AliveResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusResponse is the plain ok/error envelope.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// IndexRequest is the archive payload sent from the Chrome side panel. HTML
// is an optional fallback extracted server-side when the page text is empty.
type IndexRequest struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	TabID   int64  `json:"tab_id"`
	Favicon string `json:"favicon"`
}

// IndexResponse reports the archived page identity.
type IndexResponse struct {
	Status string `json:"status"`
	DocID  string `json:"doc_id"`
	Chunks int    `json:"chunks"`
}

// SearchRequest is a plain semantic search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// SearchResponse carries ranked results.
type SearchResponse struct {
	Results []tabs.SearchResult `json:"results"`
}

// LLMSearchRequest runs the keyword-expanded pipeline.
type LLMSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// LLMSearchResponse adds the generated keywords and any non-fatal expansion
// error to the ranked results.
type LLMSearchResponse struct {
	Keywords []string            `json:"keywords"`
	Results  []tabs.SearchResult `json:"results"`
	LLMError string              `json:"llm_error,omitempty"`
}

// DeleteRequest removes one page by URL.
type DeleteRequest struct {
	URL string `json:"url"`
}

// DeleteResponse reports whether anything was removed.
type DeleteResponse struct {
	Status  string `json:"status"`
	Deleted bool   `json:"deleted"`
}

// ListResponse enumerates the archived pages.
type ListResponse struct {
	Status string             `json:"status"`
	Pages  []tabs.PageSummary `json:"pages"`
}

// LLMConfigView is the masked provider configuration.
type LLMConfigView struct {
	BaseURL      string `json:"base_url,omitempty"`
	APIKeyMasked string `json:"api_key_masked,omitempty"`
	Model        string `json:"model,omitempty"`
	Configured   bool   `json:"configured"`
}

// LLMConfigResponse wraps the masked view.
type LLMConfigResponse struct {
	Status string        `json:"status"`
	Config LLMConfigView `json:"config"`
}

// AgentChatRequest starts one reasoning run.
type AgentChatRequest struct {
	Query string `json:"query"`
}
