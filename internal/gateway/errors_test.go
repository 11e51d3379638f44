package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/queue"
	"github.com/metasound/musiphone/internal/storage"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{catalog.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("cover: %w", catalog.ErrNotFound), http.StatusNotFound},
		{approval.ErrUnknownTicket, http.StatusNotFound},
		{catalog.ErrInvalidInput, http.StatusBadRequest},
		{storage.ErrInvalidHash, http.StatusBadRequest},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: parsing form: %w", catalog.ErrInvalidInput, &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
		{approval.ErrRejected, http.StatusForbidden},
		{ErrForbidden, http.StatusForbidden},
		{approval.ErrTimeout, http.StatusRequestTimeout},
		{queue.ErrQueueFull, http.StatusTooManyRequests},
		{ErrRateLimited, http.StatusTooManyRequests},
		{queue.ErrTimeout, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audio/x", nil)

	t.Run("not found has no body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, req, fmt.Errorf("audio: %w", catalog.ErrNotFound))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("client errors explain themselves", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, req, fmt.Errorf("%w: title is empty", catalog.ErrInvalidInput))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "title is empty")
	})

	t.Run("server errors stay opaque", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, req, errors.New("open /var/lib/secret: permission denied"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret")
	})
}
