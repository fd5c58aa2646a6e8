// Package search defines the web search capability used by the research
// executor and its provider implementations.
//
// Available providers:
//
//   - duckduckgo: no API key, scrapes the lite HTML page
//   - tavily: API key, JSON API
//   - brave: API key via X-Subscription-Token
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
)

// Gateway turns a text query into an ordered list of results. A query
// without hits returns an empty slice and no error.
type Gateway interface {
	Search(ctx context.Context, query string, maxResults int) ([]common.SearchResult, error)
}

// UnavailableError reports a provider outage or rejected request. Callers
// treat it as zero results.
type UnavailableError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s search unavailable (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s search unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err for provider, marking retryable statuses as transient.
func Unavailable(provider string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &UnavailableError{Provider: provider, Status: status, Err: caller.FromStatus(status, err)}
}

// Finalize drops results without a usable http(s) URL, removes duplicate
// URLs, caps the list at maxResults and assigns 1-based ranks.
func Finalize(results []common.SearchResult, maxResults int) []common.SearchResult {
	out := make([]common.SearchResult, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		r.URL = strings.TrimSpace(r.URL)
		r.Title = strings.TrimSpace(r.Title)
		r.Snippet = strings.TrimSpace(r.Snippet)

		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}

		if r.Title == "" {
			r.Title = u.Host
		}
		r.Rank = len(out) + 1
		out = append(out, r)
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
	}
	return out
}
