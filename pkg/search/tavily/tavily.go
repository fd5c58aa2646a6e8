package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"
	"github.com/OFFIS-RIT/deepresearch/pkg/search"
)

const DefaultEndpoint = "https://api.tavily.com/search"

// Tavily implements search.Gateway on the Tavily search API.
type Tavily struct {
	apiKey   string
	depth    string
	endpoint string
	client   *http.Client
}

// NewTavilyParams configures a Tavily gateway. Depth is "basic" or "advanced".
type NewTavilyParams struct {
	ApiKey   string
	Depth    string
	Endpoint string
	Client   *http.Client
}

// NewTavily creates a Tavily gateway.
func NewTavily(params NewTavilyParams) (*Tavily, error) {
	if strings.TrimSpace(params.ApiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if params.Depth == "" {
		params.Depth = "basic"
	}
	if params.Endpoint == "" {
		params.Endpoint = DefaultEndpoint
	}
	if params.Client == nil {
		params.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Tavily{
		apiKey:   params.ApiKey,
		depth:    params.Depth,
		endpoint: params.Endpoint,
		client:   params.Client,
	}, nil
}

type request struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results,omitempty"`
}

type response struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts the query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]common.SearchResult, error) {
	payload, err := json.Marshal(request{Query: query, SearchDepth: t.depth, MaxResults: maxResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &search.UnavailableError{Provider: "tavily", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, search.Unavailable("tavily", resp.StatusCode, nil)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &search.UnavailableError{Provider: "tavily", Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]common.SearchResult, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, common.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	results = search.Finalize(results, maxResults)
	logger.Debug("[Search] Tavily results", "query", query, "results", len(results))
	return results, nil
}
