package loader

import (
	"context"
	"fmt"
)

// ContentFetcher resolves a URL to its extracted plain text.
//
// Implementations return *BlockedHostError when the URL is refused by the
// network policy and *FetchError for network, status or parse failures.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// BlockedHostError reports a URL whose host resolves to an address that may
// not be fetched (loopback, private, link-local and similar ranges).
type BlockedHostError struct {
	URL    string
	Host   string
	Reason string
}

func (e *BlockedHostError) Error() string {
	return fmt.Sprintf("blocked host %q for %s: %s", e.Host, e.URL, e.Reason)
}

// FetchError reports a failed retrieval. Status is the HTTP status when the
// server answered, zero otherwise.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
