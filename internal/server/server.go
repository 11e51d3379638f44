// Package server exposes a musiphone node over HTTP.
//
// Routes:
//
//	GET    /health           node status
//	POST   /songs            add a song (multipart "file", "title", "priority")
//	DELETE /songs            remove a song ("title" in a form or JSON body)
//	GET    /audio/{hash}     stream a song, byte ranges supported
//	GET    /cover/{hash}     embedded cover art of a song
//	GET    /approvals        pending approval tickets (trusted clients)
//	POST   /approvals/{id}   resolve a ticket with {"approved": bool}
//
// Every route first passes network access; the song routes then go
// through the gateway's admission, resolution and coalescing middlewares.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/gateway"
	"github.com/metasound/musiphone/internal/logging"
	"github.com/metasound/musiphone/internal/storage"
)

// RequestIDHeader carries the request id back to the client
const RequestIDHeader = "X-Request-Id"

// maxRemovalBody bounds the body of a removal request
const maxRemovalBody = 64 << 10

// Server holds the node's HTTP handlers
type Server struct {
	gw          *gateway.Gateway
	catalog     catalog.Store
	files       storage.Store
	board       *approval.Board
	logger      *slog.Logger
	maxFileSize int64
	started     time.Time

	// mutate serialises catalog and blob changes so a removal never
	// deletes a blob an addition is about to reference
	mutate sync.Mutex
}

// Deps are the collaborators of a Server. Board is optional; without it
// the approval routes are not registered.
type Deps struct {
	Gateway *gateway.Gateway
	Catalog catalog.Store
	Files   storage.Store
	Board   *approval.Board
	Logger  *slog.Logger
}

// New creates a server. maxFileSize bounds song uploads; 0 disables the limit.
func New(deps Deps, maxFileSize int64) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		gw:          deps.Gateway,
		catalog:     deps.Catalog,
		files:       deps.Files,
		board:       deps.Board,
		logger:      logger,
		maxFileSize: maxFileSize,
		started:     time.Now(),
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	gw := s.gw
	mux := http.NewServeMux()

	mux.Handle("GET /health", gateway.Chain(http.HandlerFunc(s.handleHealth), gw.NetworkAccess))

	mux.Handle("POST /songs", gateway.Chain(http.HandlerFunc(s.handleAddSong),
		limitBody(s.maxFileSize),
		gw.NetworkAccess,
		gw.SongAdditionControl,
		gw.RequestQueueSong,
	))
	mux.Handle("DELETE /songs", gateway.Chain(http.HandlerFunc(s.handleRemoveSong),
		limitBody(maxRemovalBody),
		gw.NetworkAccess,
		gw.SongRemovalControl,
	))

	mux.Handle("GET /audio/{hash}", gateway.Chain(http.HandlerFunc(gw.Audio), gw.NetworkAccess, gw.FileAccess))
	mux.Handle("GET /cover/{hash}", gateway.Chain(http.HandlerFunc(gw.Cover), gw.NetworkAccess, gw.FileAccess))

	if s.board != nil {
		mux.Handle("GET /approvals", gateway.Chain(http.HandlerFunc(s.handleListApprovals),
			gw.NetworkAccess, gw.TrustedOnly))
		mux.Handle("POST /approvals/{id}", gateway.Chain(http.HandlerFunc(s.handleResolveApproval),
			limitBody(maxRemovalBody), gw.NetworkAccess, gw.TrustedOnly))
	}

	return s.requestID(mux)
}

// requestID tags each request with an id, a child logger carrying it, and
// logs the outcome once the handler returns.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := s.logger.With("request_id", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		}()

		next.ServeHTTP(rec, r.WithContext(logging.WithContext(r.Context(), logger)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func limitBody(n int64) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth reports liveness and a few counters.
//
// Endpoint: GET /health
//
// Response:
//   - 200 OK: {"status":"ok","files":..,"bytes":..,"inFlight":..,"queued":..,"pendingApprovals":..}
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.files.Stats()
	submissions := s.gw.Guard().Stats()
	pending := 0
	if s.board != nil {
		pending = len(s.board.List())
	}
	writeJSON(w, http.StatusOK, struct {
		Status           string `json:"status"`
		Uptime           string `json:"uptime"`
		Files            int    `json:"files"`
		Bytes            int64  `json:"bytes"`
		InFlight         int    `json:"inFlight"`
		Queued           int    `json:"queued"`
		PendingApprovals int    `json:"pendingApprovals"`
	}{
		Status:           "ok",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		Files:            stats.Files,
		Bytes:            stats.Bytes,
		InFlight:         submissions.Running,
		Queued:           submissions.Waiting,
		PendingApprovals: pending,
	})
}

// handleListApprovals lists pending tickets, oldest first.
//
// Endpoint: GET /approvals
func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Tickets []approval.Ticket `json:"tickets"`
	}{Tickets: s.board.List()})
}

// ResolveRequest is the body of POST /approvals/{id}
type ResolveRequest struct {
	Approved bool `json:"approved"`
}

// handleResolveApproval approves or rejects a pending ticket.
//
// Endpoint: POST /approvals/{id}
//
// Response:
//   - 204 No Content: ticket resolved, its waiter is released
//   - 400 Bad Request: malformed body
//   - 404 Not Found: no such pending ticket (resolved or expired)
func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		gateway.WriteError(w, r, fmt.Errorf("%w: decoding body: %w", catalog.ErrInvalidInput, err))
		return
	}

	id := r.PathValue("id")
	if err := s.board.Resolve(id, body.Approved); err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("approval resolved", "ticket", id, "approved", body.Approved)
	w.WriteHeader(http.StatusNoContent)
}
