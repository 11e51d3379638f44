// Package catalog defines the song document model of a musiphone node and
// the store abstraction the request gateway reads it through.
//
// # Documents
//
// A Document is keyed by its title, which doubles as the human readable
// identity used for similarity matching. Titles have the form
//
//	Artist - Title
//
// and are checked with ValidateTitle before any mutation. Links to audio
// and cover payloads carry the title in an encoded form:
//
//	/audio/<EncodeTitle(title)>.mp3
//	/cover/<EncodeTitle(title)>.jpg
//
// Anything after the first dot is ignored when decoding.
//
// # Stores
//
// Store is implemented by MemoryStore (tests, ephemeral nodes) and by the
// SQLite adapter in the sqlite subpackage. Lookups return (nil, nil) for
// absent documents; absence is not an error at this layer.
//
// # Errors
//
// ErrNotFound and ErrInvalidInput are the two domain errors shared by the
// whole node. Callers match them with errors.Is.
package catalog
