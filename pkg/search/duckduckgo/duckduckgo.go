package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "https://lite.duckduckgo.com/lite/"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// one query per second across all instances
var limiter = rate.NewLimiter(rate.Every(time.Second), 1)

// DuckDuckGo implements search.Gateway on the DuckDuckGo lite HTML page.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewDuckDuckGoParams configures a DuckDuckGo gateway. Zero values use the defaults.
type NewDuckDuckGoParams struct {
	Endpoint string
	Client   *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo gateway.
func NewDuckDuckGo(params NewDuckDuckGoParams) *DuckDuckGo {
	if params.Endpoint == "" {
		params.Endpoint = DefaultEndpoint
	}
	if params.Client == nil {
		params.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DuckDuckGo{endpoint: params.Endpoint, client: params.Client, limiter: limiter}
}

// Search posts the query to the lite page and scrapes the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]common.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &search.UnavailableError{Provider: "duckduckgo", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, search.Unavailable("duckduckgo", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &search.UnavailableError{Provider: "duckduckgo", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	results, err := parseResults(string(body))
	if err != nil {
		return nil, &search.UnavailableError{Provider: "duckduckgo", Err: err}
	}

	results = search.Finalize(results, maxResults)
	logger.Debug("[Search] DuckDuckGo results", "query", query, "results", len(results))
	return results, nil
}

// parseResults walks the lite page in document order. A result-link anchor
// opens a result, the next result-snippet cell fills its snippet.
func parseResults(page string) ([]common.SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var results []common.SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				href := resolveLink(attr(n, "href"))
				if href != "" {
					results = append(results, common.SearchResult{
						Title: textContent(n),
						URL:   href,
					})
				}
				return
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = textContent(n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

// resolveLink unwraps DuckDuckGo redirect links and drops ad links.
func resolveLink(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		if u.Path == "/y.js" {
			return ""
		}
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
