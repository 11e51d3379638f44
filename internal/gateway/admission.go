package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/logging"
)

// Decision is the outcome of the admission gate
type Decision int

const (
	// Proceed lets the mutation through unchanged
	Proceed Decision = iota
	// RequireApproval blocks the mutation on the approval workflow
	RequireApproval
)

func (d Decision) String() string {
	if d == RequireApproval {
		return "require-approval"
	}
	return "proceed"
}

// Subject is everything the gate knows about a mutation
type Subject struct {
	Action approval.Action

	// IsSelf is set when the request comes from this node
	IsSelf bool

	// Trusted is set when the client address is on the trust list
	Trusted bool

	// Controlled is the addition's opt-in to the approval workflow
	Controlled bool

	// Document is the stored document a removal targets, if any
	Document *catalog.Document
}

// Decide applies the admission rules.
//
// Additions from this node or a trusted peer proceed, as do additions
// that did not ask to be controlled. Removals need approval only when
// they target a protected document.
func Decide(s Subject) Decision {
	switch s.Action {
	case approval.ActionAddSong:
		if s.IsSelf || s.Trusted || !s.Controlled {
			return Proceed
		}
		return RequireApproval
	case approval.ActionRemoveSong:
		if s.Document == nil || !s.Document.Protected() {
			return Proceed
		}
		return RequireApproval
	default:
		return RequireApproval
	}
}

// SongAdditionControl gates song additions
func (g *Gateway) SongAdditionControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		addr := ClientAddress(ctx)

		subject := Subject{
			Action:     approval.ActionAddSong,
			IsSelf:     g.node.IsSelf(addr),
			Controlled: r.URL.Query().Get("controlled") != "",
		}
		if !subject.IsSelf {
			trusted, err := g.trust.IsAddressTrusted(ctx, addr)
			if err != nil {
				WriteError(w, r, fmt.Errorf("checking trust: %w", err))
				return
			}
			subject.Trusted = trusted
		}

		if Decide(subject) == RequireApproval {
			title, err := SubmittedTitle(r)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			err = g.approval.Approve(ctx, approval.Request{
				Action:        approval.ActionAddSong,
				Title:         title,
				ClientAddress: addr,
			})
			if err != nil {
				WriteError(w, r, err)
				return
			}
			logging.FromContext(ctx).Info("song addition approved", "client", addr)
		}

		next.ServeHTTP(w, r)
	})
}

// SongRemovalControl gates song removals. The targeted document, if it
// exists, is stored on the request context for the handler.
func (g *Gateway) SongRemovalControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		addr := ClientAddress(ctx)

		title, err := BodyTitle(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if err := catalog.ValidateTitle(title); err != nil {
			WriteError(w, r, err)
			return
		}

		doc, err := g.catalog.GetByTitle(ctx, title)
		if err != nil {
			WriteError(w, r, fmt.Errorf("looking up %q: %w", title, err))
			return
		}

		subject := Subject{Action: approval.ActionRemoveSong, Document: doc}
		if Decide(subject) == RequireApproval {
			err := g.approval.Approve(ctx, approval.Request{
				Action:        approval.ActionRemoveSong,
				Title:         title,
				ClientAddress: addr,
			})
			if err != nil {
				WriteError(w, r, err)
				return
			}
			logging.FromContext(ctx).Info("song removal approved", "client", addr, "title", title)
		}

		if doc != nil {
			ctx = WithDocument(ctx, doc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubmittedTitle returns the title of a song addition, taken from the
// query string first and the form body second. Body parse errors are
// returned as BodyTitle reports them.
func SubmittedTitle(r *http.Request) (string, error) {
	if title := r.URL.Query().Get("title"); title != "" {
		return title, nil
	}
	return BodyTitle(r)
}

// BodyTitle reads the title field of a form or JSON body. The body is
// parsed once and kept as the request's post form, so later handlers can
// use PostFormValue whatever the method or encoding was.
func BodyTitle(r *http.Request) (string, error) {
	if r.PostForm == nil {
		if err := parseBody(r); err != nil {
			return "", err
		}
	}
	return r.PostForm.Get("title"), nil
}

// maxFormMemory is the part of a multipart body kept in memory, the
// rest goes to temporary files
const maxFormMemory = 32 << 20

func parseBody(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case r.Body == nil || r.Body == http.NoBody:
		r.PostForm = url.Values{}
		return nil

	case ct == "application/json":
		r.PostForm = url.Values{}
		var body struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return fmt.Errorf("%w: decoding body: %w", catalog.ErrInvalidInput, err)
		}
		r.PostForm.Set("title", body.Title)
		return nil

	case ct == "application/x-www-form-urlencoded" && !bodyMethod(r.Method):
		// ParseForm ignores the body of a DELETE
		r.PostForm = url.Values{}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return fmt.Errorf("%w: %w", catalog.ErrInvalidInput, err)
		}
		r.PostForm = vals
		return nil
	}

	err := r.ParseMultipartForm(maxFormMemory)
	if r.PostForm == nil {
		r.PostForm = url.Values{}
	}
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return fmt.Errorf("%w: parsing form: %w", catalog.ErrInvalidInput, err)
	}
	return nil
}

func bodyMethod(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// TrustedOnly admits requests from this node or a trusted peer and
// refuses everyone else with ErrForbidden.
func (g *Gateway) TrustedOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		addr := ClientAddress(ctx)

		if !g.node.IsSelf(addr) {
			trusted, err := g.trust.IsAddressTrusted(ctx, addr)
			if err != nil {
				WriteError(w, r, fmt.Errorf("checking trust: %w", err))
				return
			}
			if !trusted {
				WriteError(w, r, fmt.Errorf("%s: %w", addr, ErrForbidden))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
