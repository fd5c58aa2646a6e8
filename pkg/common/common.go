package common

// SearchResult is one ranked hit returned by a search gateway.
//
// Rank is the 1-based position in the provider response and is kept so that
// later filtering can break ties in the original order.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Rank    int    `json:"rank"`
}

// Source is a document that contributed to a research run. Its position in
// the run's source list determines its citation number.
type Source struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	FirstCitedIn string `json:"first_cited_in"`
}

// Document is the text retrieved for a search result, ready for chunking.
// FromSnippet marks text that falls back to the search snippet.
type Document struct {
	Result      SearchResult `json:"result"`
	Text        string       `json:"text"`
	FromSnippet bool         `json:"from_snippet"`
}
