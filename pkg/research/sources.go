package research

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/deepresearch/pkg/common"
	"github.com/OFFIS-RIT/deepresearch/pkg/loader"
)

// SourceRegistry is the append-only list of sources of a run. The citation
// number of a source is its position plus one and never changes.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources []common.Source
	index   map[string]int
}

func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{index: make(map[string]int)}
}

// Register adds a source unless its URL is already known and returns its
// citation number. added is false for known URLs.
func (r *SourceRegistry) Register(rawURL, title, sectionID string) (citation int, added bool) {
	key := loader.CacheKey(rawURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[key]; ok {
		return i + 1, false
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = rawURL
	}
	r.sources = append(r.sources, common.Source{
		URL:          rawURL,
		Title:        title,
		FirstCitedIn: sectionID,
	})
	r.index[key] = len(r.sources) - 1
	return len(r.sources), true
}

// Lookup returns the citation number of a known URL.
func (r *SourceRegistry) Lookup(rawURL string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[loader.CacheKey(rawURL)]
	if !ok {
		return 0, false
	}
	return i + 1, true
}

// Get returns the source cited as [citation].
func (r *SourceRegistry) Get(citation int) (common.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if citation < 1 || citation > len(r.sources) {
		return common.Source{}, false
	}
	return r.sources[citation-1], true
}

// Valid reports whether citation refers to a registered source.
func (r *SourceRegistry) Valid(citation int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return citation >= 1 && citation <= len(r.sources)
}

func (r *SourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// List returns a copy of all sources in citation order.
func (r *SourceRegistry) List() []common.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *SourceRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.List())
}

func (r *SourceRegistry) UnmarshalJSON(data []byte) error {
	var list []common.Source
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = nil
	r.index = make(map[string]int, len(list))
	for _, src := range list {
		key := loader.CacheKey(src.URL)
		if _, ok := r.index[key]; ok {
			continue
		}
		r.sources = append(r.sources, src)
		r.index[key] = len(r.sources) - 1
	}
	return nil
}
