package gateway

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/logging"
	"github.com/metasound/musiphone/internal/media"
)

// CacheCheckHeader marks a probe asking whether the node serves a file.
// Probes are answered with a bare status.
const CacheCheckHeader = "storacle-cache-check"

// Extensions for file names when the type cannot be detected
const (
	fallbackAudioExt = "mp3"
	fallbackCoverExt = "jpg"
)

// Audio streams the resolved document's file, honouring single byte ranges
func (g *Gateway) Audio(w http.ResponseWriter, r *http.Request) {
	doc := DocumentFrom(r.Context())
	if doc == nil {
		WriteError(w, r, fmt.Errorf("audio: %w", catalog.ErrNotFound))
		return
	}

	ok, err := g.files.Has(doc.FileHash)
	if err != nil {
		WriteError(w, r, fmt.Errorf("checking file %s: %w", doc.FileHash, err))
		return
	}
	if !ok {
		WriteError(w, r, fmt.Errorf("file %s: %w", doc.FileHash, catalog.ErrNotFound))
		return
	}

	if cacheCheck(w, r, doc) {
		return
	}

	blob, err := g.files.Open(doc.FileHash)
	if err != nil {
		WriteError(w, r, fmt.Errorf("opening file %s: %w", doc.FileHash, err))
		return
	}
	defer blob.Close()

	size := blob.Size()
	info, err := media.Detect(io.NewSectionReader(blob, 0, size), size)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	h := w.Header()
	setContentType(h, info.MIME)
	h.Set("Content-Disposition", contentDisposition(doc.Title, info.Ext, fallbackAudioExt))
	g.setCacheControl(h)

	start, end, partial := ParseRange(r.Header.Get("Range"), size)
	if !partial {
		start, end = 0, size-1
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
	} else {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	if size == 0 || r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, io.NewSectionReader(blob, start, end-start+1)); err != nil {
		abort(r, err)
	}
}

// Cover serves the artwork embedded in the resolved document's file
func (g *Gateway) Cover(w http.ResponseWriter, r *http.Request) {
	doc := DocumentFrom(r.Context())
	if doc == nil {
		WriteError(w, r, fmt.Errorf("cover: %w", catalog.ErrNotFound))
		return
	}

	blob, err := g.files.Open(doc.FileHash)
	if err != nil {
		WriteError(w, r, fmt.Errorf("opening file %s: %w", doc.FileHash, err))
		return
	}
	defer blob.Close()

	pic, err := media.Cover(io.NewSectionReader(blob, 0, blob.Size()))
	if err != nil {
		WriteError(w, r, fmt.Errorf("cover of %s: %w", doc.FileHash, err))
		return
	}

	if cacheCheck(w, r, doc) {
		return
	}

	info := media.DetectBytes(pic)
	h := w.Header()
	setContentType(h, info.MIME)
	h.Set("Content-Disposition", contentDisposition(doc.Title, info.Ext, fallbackCoverExt))
	h.Set("Content-Length", strconv.Itoa(len(pic)))
	g.setCacheControl(h)
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(pic); err != nil {
		abort(r, err)
	}
}

// ParseRange interprets a Range header against a file of size bytes.
// Only the first range is honoured. A missing start means 0, a missing
// end means the last byte, and both are clamped to the last byte. ok is
// false when the header asks for no range or one that cannot be served,
// in which case the whole file is sent.
func ParseRange(header string, size int64) (start, end int64, ok bool) {
	_, ranges, found := strings.Cut(header, "bytes=")
	if !found || size <= 0 {
		return 0, 0, false
	}
	last := size - 1

	first, rest, _ := strings.Cut(ranges, "-")
	// Later ranges are ignored
	rest, _, _ = strings.Cut(rest, ",")

	start, ok = leadingInt(first)
	if !ok {
		start = 0
	}

	end = last
	if rest != "" {
		if end, ok = leadingInt(rest); !ok {
			return 0, 0, false
		}
	}

	start = min(start, last)
	end = min(end, last)
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

// leadingInt parses the decimal digits at the start of s, after optional
// blanks and a plus sign. Values past int64 saturate.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t")
	s = strings.TrimPrefix(s, "+")

	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, false
	}

	v, err := strconv.ParseInt(s[:n], 10, 64)
	if err != nil {
		return math.MaxInt64, true
	}
	return v, true
}

// cacheCheck answers a probe request and reports whether it did
func cacheCheck(w http.ResponseWriter, r *http.Request, doc *catalog.Document) bool {
	if r.Header.Get(CacheCheckHeader) == "" {
		return false
	}
	if r.URL.Query().Get("f") == doc.FileHash {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNotFound)
	}
	return true
}

func (g *Gateway) setCacheControl(h http.Header) {
	if g.opts.CacheMaxAge > 0 {
		h.Set("Cache-Control", "public, max-age="+strconv.FormatInt(g.opts.CacheMaxAge, 10))
	}
}

func contentDisposition(title, ext, fallbackExt string) string {
	return `inline; filename="` + media.Filename(title, ext, fallbackExt) + `"`
}

// setContentType leaves an unknown type unset. The nil entry keeps
// net/http from sniffing one.
func setContentType(h http.Header, mime string) {
	if mime == "" {
		h["Content-Type"] = nil
		return
	}
	h.Set("Content-Type", mime)
}

// abort ends a response whose headers are already sent. The server drops
// the connection so the client sees a truncated body rather than success.
func abort(r *http.Request, err error) {
	logging.FromContext(r.Context()).Warn("stream aborted", "path", r.URL.Path, "error", err)
	panic(http.ErrAbortHandler)
}
