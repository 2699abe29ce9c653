package tool

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
	"time"
)

const (
	defaultSearchURL  = "https://html.duckduckgo.com/html/"
	maxSearchResults  = 5
	maxSearchBodySize = 500_000
)

var (
	resultLinkRe    = regexp.MustCompile(`(?s)<a[^>]*class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
)

// WebSearchTool searches DuckDuckGo's HTML endpoint and returns the top
// results as plain text.
type WebSearchTool struct {
	endpoint string
	client   *http.Client
}

// NewWebSearchTool creates the tool. An empty endpoint uses DuckDuckGo.
func NewWebSearchTool(endpoint string) *WebSearchTool {
	if endpoint == "" {
		endpoint = defaultSearchURL
	}
	return &WebSearchTool{endpoint: endpoint, client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for facts you do not know, such as a definition, a theorem's name or a formula's source. Returns titles, URLs and snippets."
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Keywords for the search engine"
			}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return errorResult("invalid arguments: " + err.Error()), nil
	}
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		return errorResult("query is required"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?q="+url.QueryEscape(params.Query), nil)
	if err != nil {
		return errorResult("failed to create request: " + err.Error()), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MathCoach/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return errorResult("search request failed: " + err.Error()), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorResult(fmt.Sprintf("search returned status %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return errorResult("failed to read response: " + err.Error()), nil
	}

	results := parseResults(string(body), maxSearchResults)
	if len(results) == 0 {
		return &Result{Output: "No results found."}, nil
	}
	return &Result{Output: strings.Join(results, "\n\n")}, nil
}

// parseResults extracts up to limit "title\nurl\nsnippet" entries.
func parseResults(page string, limit int) []string {
	links := resultLinkRe.FindAllStringSubmatch(page, limit)
	snippets := resultSnippetRe.FindAllStringSubmatch(page, limit)

	out := make([]string, 0, len(links))
	for i, m := range links {
		entry := cleanHTML(m[2]) + "\n" + resolveResultURL(html.UnescapeString(m[1]))
		if i < len(snippets) {
			if s := cleanHTML(snippets[i][1]); s != "" {
				entry += "\n" + s
			}
		}
		out = append(out, entry)
	}
	return out
}

func cleanHTML(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(tagRe.ReplaceAllString(s, ""))), " ")
}

// resolveResultURL unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveResultURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}
