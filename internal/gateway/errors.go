package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/logging"
	"github.com/metasound/musiphone/internal/queue"
	"github.com/metasound/musiphone/internal/storage"
)

var (
	// ErrRateLimited is returned when a client exceeds its request rate
	ErrRateLimited = errors.New("too many requests")

	// ErrForbidden is returned when a client may not reach the node at all
	ErrForbidden = errors.New("forbidden")
)

// StatusCode maps an error kind to its HTTP status
func StatusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, approval.ErrUnknownTicket):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidInput), errors.Is(err, storage.ErrInvalidHash):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrRejected), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, approval.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError is the single failure path of every handler. Not-found
// responses carry no payload; server errors hide their cause from the
// client and log it instead.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	logger := logging.FromContext(r.Context())

	switch {
	case code == http.StatusNotFound:
		logger.Debug("not found", "path", r.URL.Path, "error", err)
		w.WriteHeader(code)
	case code >= 500:
		logger.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
		http.Error(w, http.StatusText(code), code)
	default:
		logger.Info("request refused", "path", r.URL.Path, "status", code, "error", err)
		http.Error(w, err.Error(), code)
	}
}
