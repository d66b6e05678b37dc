package papersources

import (
	"sync"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Registry manages paper sources.
// It provides thread-safe registration and priority-ordered lookup.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds a source to the registry.
// If a source with the same type already exists, it will be replaced.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Ordered resolves a priority list to the registered, enabled sources in
// that order. Unknown, disabled and repeated entries are skipped.
func (r *Registry) Ordered(priority []domain.SourceType) []PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.SourceType]struct{}, len(priority))
	sources := make([]PaperSource, 0, len(priority))
	for _, st := range priority {
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		if source, ok := r.sources[st]; ok && source.IsEnabled() {
			sources = append(sources, source)
		}
	}
	return sources
}
