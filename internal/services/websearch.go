package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"parallax-connect/internal/models"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// WebSearchService runs web searches with varying depth: normal is one
// full page visit plus snippets, deep visits the top three pages in
// parallel, deeper visits four pages with a larger word cap.
type WebSearchService struct {
	http        *http.Client
	provider    string // "duckduckgo" | "brave"
	braveAPIKey string
	logger      *zap.Logger
}

func NewWebSearchService(provider, braveAPIKey string, logger *zap.Logger) *WebSearchService {
	return &WebSearchService{
		http:        &http.Client{Timeout: 15 * time.Second},
		provider:    provider,
		braveAPIKey: braveAPIKey,
		logger:      logger,
	}
}

func (s *WebSearchService) Search(ctx context.Context, query, depth string) (*models.SearchResponse, error) {
	s.logger.Info("searching web", zap.String("query", query), zap.String("depth", depth))

	switch depth {
	case "deeper":
		return s.depthSearch(ctx, query, 4, 2000, "deeper")
	case "deep":
		return s.depthSearch(ctx, query, 3, 1500, "deep")
	default:
		return s.normalSearch(ctx, query)
	}
}

// normalSearch: full visit of the top result, snippets for the rest.
func (s *WebSearchService) normalSearch(ctx context.Context, query string) (*models.SearchResponse, error) {
	hits, err := s.engineResults(ctx, query, 4)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &models.SearchResponse{Results: []models.SearchResult{}, Depth: "normal"}, nil
	}

	top := hits[0]
	top.Content = s.scrapeURL(ctx, top.URL, 750)
	top.IsFullContent = top.Content != ""

	results := []models.SearchResult{top}
	results = append(results, hits[1:]...)

	return &models.SearchResponse{Results: results, Depth: "normal"}, nil
}

// depthSearch visits the top n pages in parallel.
func (s *WebSearchService) depthSearch(ctx context.Context, query string, n, maxWords int, depth string) (*models.SearchResponse, error) {
	hits, err := s.engineResults(ctx, query, n)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &models.SearchResponse{Results: []models.SearchResult{}, Depth: depth}, nil
	}

	var wg sync.WaitGroup
	for i := range hits {
		wg.Add(1)
		go func(r *models.SearchResult) {
			defer wg.Done()
			r.Content = s.scrapeURL(ctx, r.URL, maxWords)
			r.IsFullContent = r.Content != ""
		}(&hits[i])
	}
	wg.Wait()

	return &models.SearchResponse{Results: hits, Depth: depth}, nil
}

func (s *WebSearchService) engineResults(ctx context.Context, query string, max int) ([]models.SearchResult, error) {
	if s.provider == "brave" && s.braveAPIKey != "" {
		return s.braveResults(ctx, query, max)
	}
	return s.duckduckgoResults(ctx, query, max)
}

var (
	ddgResultPattern  = regexp.MustCompile(`(?s)<a rel="nofollow" class="result__a" href="([^"]+)">(.*?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`(?s)<a class="result__snippet"[^>]*>(.*?)</a>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// duckduckgoResults parses the html.duckduckgo.com results page, which
// needs no API key.
func (s *WebSearchService) duckduckgoResults(ctx context.Context, query string, max int) ([]models.SearchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	links := ddgResultPattern.FindAllStringSubmatch(string(body), max)
	snippets := ddgSnippetPattern.FindAllStringSubmatch(string(body), max)

	var results []models.SearchResult
	for i, m := range links {
		r := models.SearchResult{
			URL:   resolveDDGRedirect(m[1]),
			Title: cleanHTMLFragment(m[2]),
		}
		if i < len(snippets) {
			r.Snippet = cleanHTMLFragment(snippets[i][1])
		}
		results = append(results, r)
	}
	return results, nil
}

// resolveDDGRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveDDGRedirect(href string) string {
	u, err := url.Parse(html.UnescapeString(href))
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https:" + u.String()
	}
	return u.String()
}

func (s *WebSearchService) braveResults(ctx context.Context, query string, max int) ([]models.SearchResult, error) {
	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(query), max)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.braveAPIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned status %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var results []models.SearchResult
	for _, r := range body.Web.Results {
		results = append(results, models.SearchResult{
			Title:   cleanHTMLFragment(r.Title),
			URL:     r.URL,
			Snippet: cleanHTMLFragment(r.Description),
		})
	}
	return results, nil
}

// scrapeURL fetches a page and reduces it to readable text capped at
// maxWords. Failures return an empty string; the snippet still stands.
func (s *WebSearchService) scrapeURL(ctx context.Context, pageURL string, maxWords int) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Debug("scrape failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ""
	}

	text := extractReadableText(string(body))
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript|nav|header|footer)[^>]*>.*?</\w+>`)
)

func extractReadableText(page string) string {
	page = scriptPattern.ReplaceAllString(page, " ")
	page = htmlTagPattern.ReplaceAllString(page, " ")
	return strings.TrimSpace(html.UnescapeString(page))
}

func cleanHTMLFragment(fragment string) string {
	fragment = htmlTagPattern.ReplaceAllString(fragment, "")
	return strings.TrimSpace(html.UnescapeString(fragment))
}

// BuildSearchContext formats search results into the context block
// injected into the system prompt.
func BuildSearchContext(results *models.SearchResponse) string {
	var b strings.Builder
	b.WriteString("\n\n[WEB SEARCH RESULTS]\n")
	for i, r := range results.Results {
		fmt.Fprintf(&b, "Source %d: %s (%s)\n", i+1, r.Title, r.URL)
		if r.IsFullContent {
			content := r.Content
			if len(content) > 1000 {
				content = content[:1000]
			}
			fmt.Fprintf(&b, "Content: %s...\n", content)
		} else {
			fmt.Fprintf(&b, "Snippet: %s\n", r.Snippet)
		}
		b.WriteString("---\n")
	}
	b.WriteString("[END WEB SEARCH RESULTS]\n\n")
	return b.String()
}
