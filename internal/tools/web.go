package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/taint"
)

const (
	defaultFetchMaxChars = 50000
	fetchMaxRedirects    = 3
	fetchTimeout         = 30 * time.Second
	fetchUserAgent       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// checkSSRF rejects URLs whose host resolves to a loopback, private,
// link-local or otherwise non-public address.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("localhost is not allowed")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("host %s resolves to a non-public address", host)
		}
	}
	return nil
}

// WebFetch fetches an external URL. The content counts as external bytes in
// the session's taint budget and is returned inside an external-content
// wrapper.
func (t *Tools) WebFetch(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	rawURL := argString(call.Args, "url")
	maxChars := argInt(call.Args, "maxChars", defaultFetchMaxChars)

	if err := checkSSRF(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF protection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	redirects := 0
	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects++
			if redirects > fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return checkSSRF(req.URL.String())
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	// Read extra bytes for HTML overhead before extraction.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = htmlToText(text)
	}
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	finalURL := resp.Request.URL.String()
	t.budget.RecordInbound(call.Session.ID, len(text), taint.TrustExternal)

	return map[string]any{
		"url":       finalURL,
		"status":    resp.StatusCode,
		"truncated": truncated,
		"content":   router.WrapExternal(text, finalURL, ""),
	}, nil
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// WebSearch queries the DuckDuckGo HTML endpoint. Results count as external
// bytes in the taint budget.
func (t *Tools) WebSearch(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	query := argString(call.Args, "query")
	maxResults := argInt(call.Args, "maxResults", 5)

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	results := extractDDGResults(string(body), maxResults)
	for _, r := range results {
		t.budget.RecordInbound(call.Session.ID, len(r.Title)+len(r.Description), taint.TrustExternal)
	}
	return map[string]any{"query": query, "results": results, "count": len(results)}, nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	scriptRe     = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

func extractDDGResults(html string, count int) []SearchResult {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []SearchResult
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := decodeDDGRedirect(linkMatches[i][1])
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(linkMatches[i][2], ""))
		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}
		results = append(results, SearchResult{Title: title, URL: rawURL, Description: desc})
	}
	return results
}

// decodeDDGRedirect extracts the real target from DDG's uddg= redirect wrapper.
func decodeDDGRedirect(rawURL string) string {
	if !strings.Contains(rawURL, "uddg=") {
		return rawURL
	}
	u, err := url.QueryUnescape(rawURL)
	if err != nil {
		return rawURL
	}
	idx := strings.Index(u, "uddg=")
	if idx < 0 {
		return rawURL
	}
	extracted := u[idx+5:]
	if amp := strings.Index(extracted, "&"); amp >= 0 {
		extracted = extracted[:amp]
	}
	return extracted
}

func htmlToText(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = htmlTagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n\n"))
}
