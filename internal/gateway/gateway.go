package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/cluster"
	"github.com/metasound/musiphone/internal/queue"
	"github.com/metasound/musiphone/internal/similarity"
	"github.com/metasound/musiphone/internal/storage"
)

// Middleware wraps a handler, calling next to proceed
type Middleware func(next http.Handler) http.Handler

// Chain applies middlewares in order around h; the first one runs first
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Options tune gateway behaviour
type Options struct {
	// CacheMaxAge is the Cache-Control max-age in seconds; 0 omits the header
	CacheMaxAge int64

	// SimilarityThreshold is the score at which two titles share a queue slot
	SimilarityThreshold float64

	// QueueTimeout bounds how long a duplicate submission waits
	QueueTimeout time.Duration

	// QueueMaxWaiting rejects duplicate submissions past this many waiters
	QueueMaxWaiting int

	// RequestsPerSecond and Burst rate limit each client; 0 disables
	RequestsPerSecond float64
	Burst             int
}

// Gateway holds the collaborators the request middlewares consult
type Gateway struct {
	node     *cluster.Node
	trust    cluster.TrustChecker
	approval approval.Workflow
	catalog  catalog.Store
	files    storage.Store
	guard    *queue.Guard
	score    similarity.Scorer
	limits   *limiters
	opts     Options
}

// Deps are the collaborators of a Gateway. Guard and Scorer are optional.
type Deps struct {
	Node     *cluster.Node
	Trust    cluster.TrustChecker
	Approval approval.Workflow
	Catalog  catalog.Store
	Files    storage.Store
	Guard    *queue.Guard
	Scorer   similarity.Scorer
}

// New wires a gateway
func New(deps Deps, opts Options) (*Gateway, error) {
	switch {
	case deps.Node == nil:
		return nil, errors.New("gateway: node is required")
	case deps.Trust == nil:
		return nil, errors.New("gateway: trust checker is required")
	case deps.Approval == nil:
		return nil, errors.New("gateway: approval workflow is required")
	case deps.Catalog == nil:
		return nil, errors.New("gateway: catalog is required")
	case deps.Files == nil:
		return nil, errors.New("gateway: file storage is required")
	}
	if deps.Guard == nil {
		deps.Guard = queue.NewGuard()
	}
	if deps.Scorer == nil {
		deps.Scorer = similarity.Score
	}

	return &Gateway{
		node:     deps.Node,
		trust:    deps.Trust,
		approval: deps.Approval,
		catalog:  deps.Catalog,
		files:    deps.Files,
		guard:    deps.Guard,
		score:    deps.Scorer,
		limits:   newLimiters(opts.RequestsPerSecond, opts.Burst),
		opts:     opts,
	}, nil
}

// Guard exposes the coalescing guard, mostly for diagnostics
func (g *Gateway) Guard() *queue.Guard {
	return g.guard
}

type ctxKey int

const (
	clientAddressKey ctxKey = iota
	documentKey
)

// WithClientAddress stores the resolved client address in ctx
func WithClientAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddressKey, addr)
}

// ClientAddress returns the address stored by NetworkAccess
func ClientAddress(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddressKey).(string)
	return addr
}

// WithDocument stores a resolved document in ctx
func WithDocument(ctx context.Context, doc *catalog.Document) context.Context {
	return context.WithValue(ctx, documentKey, doc)
}

// DocumentFrom returns the document resolved earlier in the chain, or nil
func DocumentFrom(ctx context.Context) *catalog.Document {
	doc, _ := ctx.Value(documentKey).(*catalog.Document)
	return doc
}
