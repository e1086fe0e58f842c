// Package websearch provides the retrieval backend for manual grounding:
// a web search (DuckDuckGo HTML) and a page fetch with text extraction.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 2 << 20 // 2MB is plenty for search pages
	userAgent       = "Mozilla/5.0 (compatible; pup-ai/2.0)"
	searchEndpoint  = "https://duckduckgo.com/html/"
	maxResults      = 5
	maxPageChars    = 4000
)

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client performs searches and page fetches. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint replaces the search endpoint (tests).
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   searchEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs a web search and returns up to five results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	reqURL := c.endpoint + "?q=" + url.QueryEscape(query)
	doc, err := c.fetchDocument(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	results := ParseResults(doc)
	logrus.Debugf("[WEBSEARCH] %d results for %q", len(results), query)
	return results, nil
}

// ParseResults extracts search hits from a DuckDuckGo HTML results page.
func ParseResults(doc *goquery.Document) []Result {
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		if title == "" || href == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			URL:     cleanResultURL(href),
			Snippet: snippet,
		})
		return len(results) < maxResults
	})
	return results
}

// cleanResultURL unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if target, err := url.QueryUnescape(uddg); err == nil {
			return target
		}
	}
	if u.Scheme == "" {
		u.Scheme = "https"
		return u.String()
	}
	return href
}

// FetchPage downloads a page and returns its visible text, truncated to a
// size a model prompt can carry.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("invalid url: %s", pageURL)
	}

	doc, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, nav, footer, header").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if len(text) > maxPageChars {
		cut := maxPageChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text, nil
}

func (c *Client) fetchDocument(ctx context.Context, reqURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, reqURL)
	}

	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseSize))
}

// FormatResults renders search hits as a compact block for model prompts.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return sb.String()
}
