// Package memory keeps artifacts and jobs in process memory for tests and
// single-run CLI use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// ArtifactStore stores artifacts in a map and returns memory:// URIs.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{data: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *ArtifactStore) Put(_ context.Context, name string, _ string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return "memory://" + name, nil
}

// Get returns a copy of the stored bytes.
func (s *ArtifactStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, crawler.ErrArtifactNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Names lists stored artifact names in lexical order.
func (s *ArtifactStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
