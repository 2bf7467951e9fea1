package builtin

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"recap/internal/cache"
	"recap/internal/mcp"
	"recap/internal/ratelimit"
)

// WebEndpoint is the registry channel the web server listens on.
const WebEndpoint = "web"

const (
	fetchMaxBody   = 1024 * 1024
	fetchMaxResult = 50000

	pageCacheSize = 32
	pageCacheTTL  = 5 * time.Minute

	// One fetch per second per host, with a small burst. Models retry
	// and loop; the sites they read should not pay for that.
	perHostRate  = 1
	perHostBurst = 3
)

var (
	collapseSpaceRe = regexp.MustCompile(`\s+`)
	blankLinesRe    = regexp.MustCompile(`\n{3,}`)
)

// NewWebServer builds the in-process server exposing page fetching to
// the model. Fetches that would reach private or loopback networks are
// refused.
func NewWebServer() *mcp.InMemoryServer {
	f := newFetcher(&http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}, newHostGuard())

	srv := mcp.NewInMemoryServer("web", "1.0.0")
	srv.RegisterTool(&mcp.ToolInfo{
		Name:        "fetch_page",
		Description: "Fetches a web page and returns its content as markdown. Useful for reading documentation or links mentioned in a recording.",
		InputSchema: &mcp.JSONSchema{
			Type: "object",
			Properties: map[string]*mcp.JSONSchema{
				"url": {
					Type:        "string",
					Description: "The URL to fetch content from",
				},
				"selector": {
					Type:        "string",
					Description: "Optional CSS-like selector to extract specific content (e.g. 'article', 'main', '.content')",
				},
			},
			Required: []string{"url"},
		},
	}, f.fetch)
	return srv
}

type fetcher struct {
	client *http.Client
	guard  *hostGuard
	pages  *cache.Cache[string, string]
	hosts  *ratelimit.PerHost
}

func newFetcher(client *http.Client, guard *hostGuard) *fetcher {
	return &fetcher{
		client: client,
		guard:  guard,
		pages:  cache.New[string, string](pageCacheSize, pageCacheTTL),
		hosts:  ratelimit.NewPerHost(perHostRate, perHostBurst),
	}
}

func (f *fetcher) fetch(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	urlStr, _ := args["url"].(string)
	if urlStr == "" {
		return mcp.ErrorResult("url is required"), nil
	}
	selector, _ := args["selector"].(string)

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid url: %s", err)), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return mcp.ErrorResult("only http and https urls are supported"), nil
	}
	if err := f.guard.check(parsed.Hostname()); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	cacheKey := urlStr + "\x00" + selector
	if content, ok := f.pages.Get(cacheKey); ok {
		return mcp.TextResult(content), nil
	}

	if err := f.hosts.Wait(ctx, parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("failed to build request: %s", err)), nil
	}
	req.Header.Set("User-Agent", "recap/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("fetch failed: %s", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mcp.ErrorResult(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("failed to read response: %s", err)), nil
	}

	content := renderContent(string(body), resp.Header.Get("Content-Type"), selector)
	if len(content) > fetchMaxResult {
		content = content[:fetchMaxResult] + "\n\n... (content truncated)"
	}
	f.pages.Set(cacheKey, content)
	return mcp.TextResult(content), nil
}

// renderContent picks a rendering based on the content type. Unknown
// types get a best-effort HTML pass before falling back to the raw
// body.
func renderContent(body, contentType, selector string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		if md, err := htmlToMarkdown(body, selector); err == nil {
			return md
		}
		return body
	case strings.Contains(ct, "text/plain"), strings.Contains(ct, "application/json"):
		return body
	default:
		if md, err := htmlToMarkdown(body, selector); err == nil && md != "" {
			return md
		}
		return body
	}
}

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"header": true, "aside": true, "noscript": true, "iframe": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "hr": true,
	"blockquote": true, "pre": true, "table": true,
}

var openMarkers = map[string]string{
	"h1": "\n# ", "h2": "\n## ", "h3": "\n### ",
	"h4": "\n#### ", "h5": "\n##### ", "h6": "\n###### ",
	"li": "\n- ", "br": "\n", "hr": "\n---\n",
	"code": "`", "pre": "\n```\n",
	"strong": "**", "b": "**", "em": "*", "i": "*",
	"p": "\n", "div": "\n", "section": "\n", "article": "\n", "blockquote": "\n",
}

var closeMarkers = map[string]string{
	"code": "`", "pre": "\n```\n",
	"strong": "**", "b": "**", "em": "*", "i": "*",
}

// htmlToMarkdown converts an HTML document to markdown-like text,
// starting from the body or from the first node matching selector.
func htmlToMarkdown(page, selector string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", err
	}

	root := findContentRoot(doc, selector)
	if root == nil && selector != "" {
		root = findContentRoot(doc, "")
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	renderNode(&sb, root)

	out := blankLinesRe.ReplaceAllString(sb.String(), "\n\n")
	return strings.TrimSpace(out), nil
}

func renderNode(sb *strings.Builder, n *html.Node) {
	var tag string
	if n.Type == html.ElementNode {
		tag = strings.ToLower(n.Data)
		if skipTags[tag] {
			return
		}
		sb.WriteString(openMarkers[tag])
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(collapseSpaceRe.ReplaceAllString(text, " "))
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(sb, c)
	}

	if n.Type == html.ElementNode {
		sb.WriteString(closeMarkers[tag])
		if tag == "a" {
			if href := linkTarget(n); href != "" {
				fmt.Fprintf(sb, " (%s)", href)
			}
		}
		if blockTags[tag] {
			sb.WriteString("\n")
		}
	}
}

func linkTarget(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key != "href" || attr.Val == "" {
			continue
		}
		if strings.HasPrefix(attr.Val, "#") || strings.HasPrefix(attr.Val, "javascript:") {
			return ""
		}
		return attr.Val
	}
	return ""
}

// findContentRoot returns the first node matching selector, or the
// body when no selector is given.
func findContentRoot(n *html.Node, selector string) *html.Node {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		if selector == "" && tag == "body" {
			return n
		}
		if selector != "" && matchesSelector(n, selector) {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findContentRoot(c, selector); found != nil {
			return found
		}
	}
	return nil
}

// matchesSelector supports tag, .class, and #id selectors.
func matchesSelector(n *html.Node, selector string) bool {
	selector = strings.TrimSpace(selector)

	if className, ok := strings.CutPrefix(selector, "."); ok {
		for _, attr := range n.Attr {
			if attr.Key == "class" {
				for _, c := range strings.Fields(attr.Val) {
					if c == className {
						return true
					}
				}
			}
		}
		return false
	}

	if id, ok := strings.CutPrefix(selector, "#"); ok {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return true
			}
		}
		return false
	}

	return strings.EqualFold(n.Data, selector)
}
