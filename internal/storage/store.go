package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/metasound/musiphone/internal/catalog"
)

// ErrInvalidHash is returned for hashes that are not lowercase sha256 hex
var ErrInvalidHash = errors.New("invalid file hash")

// Blob is an open handle on stored file bytes
// Callers must Close it on every exit path
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Store defines content-addressed storage for audio files
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Has reports whether bytes for hash are stored
	Has(hash string) (bool, error)

	// Open returns a handle on the stored bytes
	// Returns an error wrapping catalog.ErrNotFound if hash isn't stored
	Open(hash string) (Blob, error)

	// Put stores everything read from r and returns its hash
	// Storing the same bytes twice is a no-op
	Put(r io.Reader) (string, error)

	// Delete removes the bytes for hash
	// No error if hash isn't stored
	Delete(hash string) error

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Files int   // Number of stored files
	Bytes int64 // Total size of all files in bytes
}

// ValidateHash checks that hash looks like a sha256 hex digest
// Hashes become path components, so anything else is rejected
func ValidateHash(hash string) error {
	if len(hash) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
		}
	}
	return nil
}

func notFound(hash string) error {
	return fmt.Errorf("file %s: %w", hash, catalog.ErrNotFound)
}

// MemoryStore implements Store with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Hash -> bytes
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Has reports whether hash is stored
func (m *MemoryStore) Has(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[hash]
	return ok, nil
}

// Open returns a reader over the stored bytes
// Stored slices are never mutated, so no copy is needed
func (m *MemoryStore) Open(hash string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[hash]
	if !ok {
		return nil, notFound(hash)
	}
	return memoryBlob{bytes.NewReader(value)}, nil
}

// Put stores a copy of everything read from r
func (m *MemoryStore) Put(r io.Reader) (string, error) {
	value, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(value)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[hash]; !ok {
		m.data[hash] = value
	}
	return hash, nil
}

// Delete removes hash (idempotent)
func (m *MemoryStore) Delete(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, hash)
	return nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, value := range m.data {
		total += int64(len(value))
	}
	return StoreStats{Files: len(m.data), Bytes: total}
}

type memoryBlob struct {
	*bytes.Reader
}

func (memoryBlob) Close() error { return nil }

// DiskStore implements Store on a directory tree
// Files live at <root>/<hash[:2]>/<hash>
type DiskStore struct {
	root string
}

// NewDiskStore creates root if needed and returns a store over it
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Path returns where the bytes for hash live (or would live)
func (d *DiskStore) Path(hash string) (string, error) {
	if err := ValidateHash(hash); err != nil {
		return "", err
	}
	return filepath.Join(d.root, hash[:2], hash), nil
}

// Has reports whether hash is stored
func (d *DiskStore) Has(hash string) (bool, error) {
	p, err := d.Path(hash)
	if err != nil {
		// A malformed hash can't be stored, so it is simply absent
		return false, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Open opens the file for hash
func (d *DiskStore) Open(hash string) (Blob, error) {
	p, err := d.Path(hash)
	if err != nil {
		return nil, notFound(hash)
	}

	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(hash)
	}
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileBlob{File: f, size: info.Size()}, nil
}

// Put streams r into a temp file while hashing it, then moves it into place
func (d *DiskStore) Put(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	p, _ := d.Path(hash)

	if ok, _ := d.Has(hash); ok {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("creating file directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("moving file into place: %w", err)
	}
	return hash, nil
}

// Delete removes the file for hash (idempotent)
func (d *DiskStore) Delete(hash string) error {
	p, err := d.Path(hash)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Stats walks the tree; it is meant for diagnostics, not hot paths
func (d *DiskStore) Stats() StoreStats {
	var stats StoreStats
	_ = filepath.WalkDir(d.root, func(p string, e os.DirEntry, err error) error {
		if err != nil || e.IsDir() || ValidateHash(e.Name()) != nil {
			return nil
		}
		if info, err := e.Info(); err == nil {
			stats.Files++
			stats.Bytes += info.Size()
		}
		return nil
	})
	return stats
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 { return b.size }
