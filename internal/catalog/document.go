package catalog

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a document, its bytes or its artwork don't exist
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is returned for malformed titles and request fields
var ErrInvalidInput = errors.New("invalid input")

// MaxTitleLength bounds a song title in runes
const MaxTitleLength = 300

// Document is the catalog record of one shared audio file
type Document struct {
	Title      string    `json:"title"`      // Primary key, "Artist - Title"
	FileHash   string    `json:"fileHash"`   // Content address of the audio bytes
	Priority   int       `json:"priority"`   // >= 1 protects from unsupervised removal
	AccessedAt time.Time `json:"accessedAt"` // Last access event
	Accesses   int64     `json:"accesses"`   // Access counter
}

// Protected reports whether removing the document needs approval
func (d *Document) Protected() bool {
	return d.Priority >= 1
}

// Store defines the document persistence the gateway consumes
// All implementations must be thread-safe for concurrent access
type Store interface {
	// GetByTitle returns nil, nil when no document has the title
	GetByTitle(ctx context.Context, title string) (*Document, error)

	// GetByFileHash returns nil, nil when no document references the hash
	GetByFileHash(ctx context.Context, hash string) (*Document, error)

	// Access records an access event against the document
	Access(ctx context.Context, doc *Document) error

	// Save creates or replaces a document by title
	Save(ctx context.Context, doc *Document) error

	// Delete removes a document by title, no error if it doesn't exist
	Delete(ctx context.Context, title string) error

	// CountByFileHash returns how many documents reference the hash
	CountByFileHash(ctx context.Context, hash string) (int, error)
}

// ValidateTitle checks the "Artist - Title" form of a song title.
func ValidateTitle(title string) error {
	t := strings.TrimSpace(title)
	if t == "" {
		return fmt.Errorf("%w: empty song title", ErrInvalidInput)
	}
	if utf8.RuneCountInString(t) > MaxTitleLength {
		return fmt.Errorf("%w: song title is longer than %d characters", ErrInvalidInput, MaxTitleLength)
	}

	artist, name, ok := strings.Cut(t, " - ")
	if !ok || strings.TrimSpace(artist) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: song title %q must look like \"Artist - Title\"", ErrInvalidInput, title)
	}
	return nil
}

// EncodeTitle turns a title into a path-safe segment.
func EncodeTitle(title string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(title))
}

// DecodeTitle reverses EncodeTitle. Padded and standard alphabet forms
// are accepted too, since links are produced by other nodes.
func DecodeTitle(encoded string) (string, error) {
	s := strings.TrimRight(encoded, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: bad title encoding: %v", ErrInvalidInput, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: title is not valid utf-8", ErrInvalidInput)
	}
	return string(raw), nil
}
