package catalog

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStore implements the interface.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with an in-memory map keyed by title
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex        // Protects concurrent access
	docs map[string]Document // Title -> document
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory document store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		now:  time.Now,
	}
}

// GetByTitle returns a copy of the document to prevent external modification
func (m *MemoryStore) GetByTitle(_ context.Context, title string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[title]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// GetByFileHash scans for the first document referencing hash
func (m *MemoryStore) GetByFileHash(_ context.Context, hash string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.docs {
		if doc.FileHash == hash {
			return &doc, nil
		}
	}
	return nil, nil
}

// Access bumps the counter and timestamp of the stored document and
// mirrors them onto doc
func (m *MemoryStore) Access(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.docs[doc.Title]
	if !ok {
		return ErrNotFound
	}
	stored.Accesses++
	stored.AccessedAt = m.now()
	m.docs[doc.Title] = stored

	doc.Accesses = stored.Accesses
	doc.AccessedAt = stored.AccessedAt
	return nil
}

// Save stores a copy of doc
func (m *MemoryStore) Save(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Title] = *doc
	return nil
}

// Delete removes a document (idempotent)
func (m *MemoryStore) Delete(_ context.Context, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, title)
	return nil
}

// CountByFileHash returns the number of documents sharing hash
func (m *MemoryStore) CountByFileHash(_ context.Context, hash string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, doc := range m.docs {
		if doc.FileHash == hash {
			n++
		}
	}
	return n, nil
}
