// Package storage provides content-addressed file storage for a musiphone
// node, holding the raw audio bytes that catalog documents point at through
// their file hash.
//
// # Overview
//
// Every stored file is addressed by the lowercase hex sha256 of its bytes.
// The catalog never stores bytes itself; it records the hash, and the
// gateway opens the bytes here when streaming audio or extracting covers.
//
//	┌─────────────────────────────────────┐
//	│            Gateway                  │
//	│   (audio, cover, song addition)     │
//	└─────────────────────────────────────┘
//	                 │ hash
//	                 ▼
//	┌─────────────────────────────────────┐
//	│         Storage Interface           │
//	│      (Has, Open, Put, Delete)       │
//	└─────────────────────────────────────┘
//	         │                  │
//	    ┌────▼─────┐      ┌─────▼────┐
//	    │  Memory  │      │   Disk   │
//	    │  Store   │      │  Store   │
//	    └──────────┘      └──────────┘
//
// # Blobs
//
// Open returns a Blob: an io.ReaderAt with a known Size. Range responses
// read through io.NewSectionReader, so concurrent requests for different
// slices of the same file never share a file offset. A Blob must be closed
// by the caller on every exit path, including client disconnects.
//
// # Implementations
//
// MemoryStore: in-memory map guarded by sync.RWMutex
//   - No persistence
//   - Used by tests and throwaway nodes
//
// DiskStore: one file per hash under a two-character fan-out directory
//   - Writes go to a temp file first and are renamed into place, so a
//     partially written upload is never visible under its hash
//   - Hashes are validated before they become path components
//
// # Errors
//
// Missing files are reported with an error wrapping catalog.ErrNotFound so
// the gateway maps them to 404 the same way as missing documents.
// ErrInvalidHash marks hashes that cannot be stored at all.
package storage
