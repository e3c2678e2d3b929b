package bootstrap

import (
	"sync"

	"github.com/google/uuid"
)

// ArtifactStore holds rendered bootstrap documents keyed by an opaque
// URI, staged by the Materializer ahead of a commit and garbage
// collected by a background sweep if the owning definition's commit
// never lands (spec.md §4.5.2).
type ArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string][]byte
}

// NewArtifactStore returns an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[string][]byte)}
}

// Stage renders opts and stores the result under a freshly minted URI.
func (s *ArtifactStore) Stage(opts Options) (uri string, err error) {
	body, err := Render(opts)
	if err != nil {
		return "", err
	}
	uri = "mem://" + uuid.NewString()
	s.mu.Lock()
	s.artifacts[uri] = body
	s.mu.Unlock()
	return uri, nil
}

// Get returns a previously staged artifact.
func (s *ArtifactStore) Get(uri string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.artifacts[uri]
	return b, ok
}

// Remove discards a staged artifact, e.g. after a failed commit.
func (s *ArtifactStore) Remove(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, uri)
}

// GCOrphaned removes every staged artifact whose URI is not present in
// active, the set of bootstrap_uri values currently referenced by
// definitions in the Repository. It is the background sweep
// spec.md §4.5.2 calls for.
func (s *ArtifactStore) GCOrphaned(active map[string]bool) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri := range s.artifacts {
		if !active[uri] {
			delete(s.artifacts, uri)
			removed++
		}
	}
	return removed
}
