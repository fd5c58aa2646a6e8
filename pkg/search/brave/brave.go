package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"

	"golang.org/x/time/rate"
)

const DefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave allows one request per second per API key.
var (
	limitersMu sync.Mutex
	limiters   = map[string]*rate.Limiter{}
)

func limiterFor(apiKey string) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[apiKey]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 1)
		limiters[apiKey] = l
	}
	return l
}

// Brave implements search.Gateway on the Brave Search API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewBraveParams configures a Brave gateway.
type NewBraveParams struct {
	ApiKey   string
	Endpoint string
	Client   *http.Client
}

// NewBrave creates a Brave gateway. Instances sharing an API key share its rate limit.
func NewBrave(params NewBraveParams) (*Brave, error) {
	if strings.TrimSpace(params.ApiKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}
	if params.Endpoint == "" {
		params.Endpoint = DefaultEndpoint
	}
	if params.Client == nil {
		params.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Brave{
		apiKey:   params.ApiKey,
		endpoint: params.Endpoint,
		client:   params.Client,
		limiter:  limiterFor(params.ApiKey),
	}, nil
}

// Search runs a web search query.
func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]common.SearchResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	if maxResults > 0 {
		params.Set("count", strconv.Itoa(min(maxResults, 20)))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &search.UnavailableError{Provider: "brave", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, search.Unavailable("brave", resp.StatusCode, nil)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &search.UnavailableError{Provider: "brave", Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]common.SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, common.SearchResult{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	results = search.Finalize(results, maxResults)
	logger.Debug("[Search] Brave results", "query", query, "results", len(results))
	return results, nil
}

// stripTags removes the <strong> highlighting Brave puts into titles and descriptions.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
