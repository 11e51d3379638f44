package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/logging"
)

// FileAccess resolves the document a media request names and records the
// access. Resolution tries the "f" query parameter as a file hash, then
// the path's {hash} segment (up to the first '.') as an encoded title.
// An unresolved document is not an error here; the handler answers 404.
func (g *Gateway) FileAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		doc, err := g.resolve(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if doc == nil {
			next.ServeHTTP(w, r)
			return
		}

		if err := g.catalog.Access(ctx, doc); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				// Removed between lookup and access
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, r, fmt.Errorf("recording access: %w", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithDocument(ctx, doc)))
	})
}

func (g *Gateway) resolve(r *http.Request) (*catalog.Document, error) {
	ctx := r.Context()

	if hash := r.URL.Query().Get("f"); hash != "" {
		doc, err := g.catalog.GetByFileHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("looking up file %s: %w", hash, err)
		}
		if doc != nil {
			return doc, nil
		}
	}

	segment, _, _ := strings.Cut(r.PathValue("hash"), ".")
	if segment == "" {
		return nil, nil
	}
	title, err := catalog.DecodeTitle(segment)
	if err != nil {
		logging.FromContext(ctx).Debug("undecodable title", "segment", segment, "error", err)
		return nil, nil
	}

	doc, err := g.catalog.GetByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", title, err)
	}
	return doc, nil
}
