// Package media inspects stored audio files: it sniffs content types,
// extracts embedded cover art and builds download filenames.
package media

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mozillazg/go-unidecode"

	"github.com/metasound/musiphone/internal/catalog"
)

// FileInfo describes a payload's detected type. Both fields are empty when
// the type is unknown.
type FileInfo struct {
	MIME string
	Ext  string // Without the leading dot
	Size int64
}

// DetectBytes sniffs the type of an in-memory payload
func DetectBytes(data []byte) FileInfo {
	info := fromMIME(mimetype.Detect(data))
	info.Size = int64(len(data))
	return info
}

// Detect sniffs the type of the first bytes of r; size is recorded as is
func Detect(r io.Reader, size int64) (FileInfo, error) {
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return FileInfo{}, fmt.Errorf("detecting file type: %w", err)
	}
	info := fromMIME(m)
	info.Size = size
	return info, nil
}

func fromMIME(m *mimetype.MIME) FileInfo {
	// The root type means nothing matched
	if m == nil || m.Is("application/octet-stream") {
		return FileInfo{}
	}
	return FileInfo{
		MIME: m.String(),
		Ext:  strings.TrimPrefix(m.Extension(), "."),
	}
}

// IsAudio reports whether info names an audio container
func (i FileInfo) IsAudio() bool {
	return strings.HasPrefix(i.MIME, "audio/")
}

// Cover returns the embedded artwork (ID3 APIC frame and its equivalents
// in other tag formats). Files without tags or without artwork yield an
// error wrapping catalog.ErrNotFound.
func Cover(r io.ReadSeeker) ([]byte, error) {
	m, err := tag.ReadFrom(r)
	if errors.Is(err, tag.ErrNoTagsFound) {
		return nil, fmt.Errorf("cover: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading tags: %w", err)
	}

	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, fmt.Errorf("cover: %w", catalog.ErrNotFound)
	}
	return pic.Data, nil
}

var (
	illegalChars  = regexp.MustCompile(`[/?<>\\:*|"]`)
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x80-\x9f]`)
	reservedNames = regexp.MustCompile(`^\.+$`)
	windowsNames  = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
	trailingChars = regexp.MustCompile(`[. ]+$`)
)

// maxFilenameBytes leaves room for the extension within common 255 byte
// filesystem limits
const maxFilenameBytes = 240

// Filename builds an ASCII, header and filesystem safe "title.ext" name.
// fallbackExt is used when ext is empty.
func Filename(title, ext, fallbackExt string) string {
	if ext == "" {
		ext = fallbackExt
	}
	return Sanitize(unidecode.Unidecode(title)) + "." + ext
}

// Sanitize strips characters that are unsafe in filenames and in a quoted
// Content-Disposition parameter.
func Sanitize(name string) string {
	s := illegalChars.ReplaceAllString(name, "")
	s = controlChars.ReplaceAllString(s, "")
	s = reservedNames.ReplaceAllString(s, "")
	s = windowsNames.ReplaceAllString(s, "")
	s = trailingChars.ReplaceAllString(s, "")
	return truncate(s, maxFilenameBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
