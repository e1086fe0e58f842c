package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Ffirst&amp;rut=abc">First Hit</a>
  <div class="result__snippet">Snippet for the first hit.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/second">Second Hit</a>
  <div class="result__snippet">Snippet for the second hit.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/untitled"></a>
  <div class="result__snippet">No title, skipped.</div>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultsPage))
	require.NoError(t, err)

	results := ParseResults(doc)
	require.Len(t, results, 2)

	assert.Equal(t, "First Hit", results[0].Title)
	assert.Equal(t, "https://example.com/first", results[0].URL)
	assert.Equal(t, "Snippet for the first hit.", results[0].Snippet)

	assert.Equal(t, "Second Hit", results[1].Title)
	assert.Equal(t, "https://example.org/second", results[1].URL)
}

func TestParseResults_CapsResultCount(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, `<div class="result"><a class="result__a" href="https://example.org/%d">Hit %d</a></div>`, i, i)
	}
	sb.WriteString("</body></html>")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sb.String()))
	require.NoError(t, err)

	assert.Len(t, ParseResults(doc), maxResults)
}

func TestCleanResultURL(t *testing.T) {
	tests := []struct {
		name     string
		href     string
		expected string
	}{
		{
			name:     "uddg redirect unwrapped",
			href:     "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage%3Fa%3D1",
			expected: "https://example.com/page?a=1",
		},
		{
			name:     "scheme-relative link gets https",
			href:     "//example.org/direct",
			expected: "https://example.org/direct",
		},
		{
			name:     "absolute link untouched",
			href:     "https://example.org/direct",
			expected: "https://example.org/direct",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, cleanResultURL(tc.href))
		})
	}
}

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nba finals", r.URL.Query().Get("q"))
		io.WriteString(w, resultsPage)
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	results, err := client.Search(context.Background(), "nba finals")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "First Hit", results[0].Title)
}

func TestClient_SearchEmptyQuery(t *testing.T) {
	client := NewClient()
	_, err := client.Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestClient_SearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))

	_, err := client.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><script>ignored()</script></head>
<body><nav>menu</nav><p>Visible   body
text.</p><footer>legal</footer></body></html>`)
	}))
	defer srv.Close()

	client := NewClient(WithHTTPClient(srv.Client()))

	text, err := client.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Visible body text.", text)
}

func TestClient_FetchPageTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Repeat("a", maxPageChars*2))
	}))
	defer srv.Close()

	client := NewClient(WithHTTPClient(srv.Client()))

	text, err := client.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, text, maxPageChars)
}

func TestClient_FetchPageTruncatesOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Three-byte runes, so the byte cap lands mid-sequence.
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Repeat("€", maxPageChars))
	}))
	defer srv.Close()

	client := NewClient(WithHTTPClient(srv.Client()))

	text, err := client.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), maxPageChars)
	assert.True(t, utf8.ValidString(text))
}

func TestClient_FetchPageRejectsBadURL(t *testing.T) {
	client := NewClient()

	_, err := client.FetchPage(context.Background(), "ftp://example.org/file")
	assert.Error(t, err)

	_, err = client.FetchPage(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestFormatResults(t *testing.T) {
	formatted := FormatResults([]Result{
		{Title: "Hit", URL: "https://example.org", Snippet: "About the hit."},
	})
	assert.Contains(t, formatted, "1. Hit")
	assert.Contains(t, formatted, "https://example.org")
	assert.Contains(t, formatted, "About the hit.")

	assert.Equal(t, "No results found.", FormatResults(nil))
}
