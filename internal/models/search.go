package models

// SearchResult is one web search hit. The top results of a search may
// carry scraped page content in addition to the engine snippet.
type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Content       string `json:"content,omitempty"`
	IsFullContent bool   `json:"is_full_content"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Depth   string         `json:"depth,omitempty"`
}

// SearchIntent is the router verdict on whether a prompt needs the web.
type SearchIntent struct {
	NeedsSearch bool   `json:"needs_search"`
	SearchQuery string `json:"search_query"`
	Reason      string `json:"reason"`
}
