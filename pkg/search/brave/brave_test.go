package brave

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch(t *testing.T) {
	var token, count string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Subscription-Token")
		count = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"web":{"results":[
			{"title":"<strong>Offshore</strong> wind","url":"https://example.org/ow","description":"Costs <strong>fell</strong>."}
		]}}`)
	}))
	defer srv.Close()

	b, err := NewBrave(NewBraveParams{ApiKey: "brave-test", Endpoint: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewBrave() error = %v", err)
	}

	results, err := b.Search(context.Background(), "offshore wind cost", 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if token != "brave-test" || count != "4" {
		t.Fatalf("unexpected request token=%q count=%q", token, count)
	}
	if len(results) != 1 || results[0].Title != "Offshore wind" || results[0].Snippet != "Costs fell." {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestStripTags(t *testing.T) {
	if got := stripTags("a <b>bold</b> move"); got != "a bold move" {
		t.Fatalf("expected tags removed, got %q", got)
	}
}
