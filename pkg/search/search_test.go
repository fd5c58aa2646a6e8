package search

import (
	"errors"
	"net/http"
	"testing"

	"github.com/OFFIS-RIT/deepresearch/pkg/caller"
	"github.com/OFFIS-RIT/deepresearch/pkg/common"
)

func TestFinalize(t *testing.T) {
	in := []common.SearchResult{
		{Title: "A", URL: "https://a.example/1"},
		{Title: "dup", URL: " https://a.example/1 "},
		{Title: "bad", URL: "javascript:alert(1)"},
		{Title: "", URL: "https://b.example/2", Snippet: " s "},
		{Title: "C", URL: "https://c.example/3"},
	}

	got := Finalize(in, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Fatalf("unexpected ranks %+v", got)
	}
	if got[1].Title != "b.example" || got[1].Snippet != "s" {
		t.Fatalf("expected host title and trimmed snippet, got %+v", got[1])
	}
}

func TestUnavailableTransience(t *testing.T) {
	if !caller.IsTransient(Unavailable("tavily", http.StatusTooManyRequests, nil)) {
		t.Fatal("expected 429 to be transient")
	}
	err := Unavailable("tavily", http.StatusUnauthorized, nil)
	if caller.IsTransient(err) {
		t.Fatal("expected 401 not to be transient")
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Provider != "tavily" {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}
