package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/gateway"
	"github.com/metasound/musiphone/internal/logging"
	"github.com/metasound/musiphone/internal/media"
)

// SongResponse is returned by the song mutation endpoints
type SongResponse struct {
	Title    string `json:"title"`
	FileHash string `json:"fileHash"`
}

// handleAddSong stores an uploaded song under its title, replacing any
// previous file for that title.
//
// Endpoint: POST /songs?title=..&controlled=1
//
// Request:
//   - multipart field "file": the audio file
//   - "title": query or form, "Artist - Title"
//   - "priority": optional form field, -1, 0 or 1
//
// Response:
//   - 200 OK: SongResponse
//   - 400 Bad Request: bad title, priority or file
//   - 413 Request Entity Too Large: file over the configured limit
func (s *Server) handleAddSong(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The body is parsed even when the query names the title, so an
	// oversized upload surfaces here
	if _, err := gateway.BodyTitle(r); err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	title, err := gateway.SubmittedTitle(r)
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	if err := catalog.ValidateTitle(title); err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	priority, err := parsePriority(r.PostFormValue("priority"))
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		gateway.WriteError(w, r, fmt.Errorf("%w: file: %w", catalog.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	info, err := media.Detect(file, header.Size)
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	if !info.IsAudio() {
		gateway.WriteError(w, r, fmt.Errorf("%w: %s is not an audio file", catalog.ErrInvalidInput, header.Filename))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		gateway.WriteError(w, r, fmt.Errorf("rewinding upload: %w", err))
		return
	}

	s.mutate.Lock()
	defer s.mutate.Unlock()

	hash, err := s.files.Put(file)
	if err != nil {
		gateway.WriteError(w, r, fmt.Errorf("storing file: %w", err))
		return
	}

	prev, err := s.catalog.GetByTitle(ctx, title)
	if err != nil {
		gateway.WriteError(w, r, fmt.Errorf("looking up %q: %w", title, err))
		return
	}
	doc := &catalog.Document{Title: title, FileHash: hash, Priority: priority}
	if prev != nil {
		doc.Accesses = prev.Accesses
		doc.AccessedAt = prev.AccessedAt
	}
	if err := s.catalog.Save(ctx, doc); err != nil {
		gateway.WriteError(w, r, fmt.Errorf("saving %q: %w", title, err))
		return
	}
	if prev != nil && prev.FileHash != hash {
		s.dropUnreferenced(ctx, prev.FileHash)
	}

	logging.FromContext(ctx).Info("song added",
		"title", title,
		"hash", hash,
		"type", info.MIME,
		"client", gateway.ClientAddress(ctx),
	)
	writeJSON(w, http.StatusOK, SongResponse{Title: title, FileHash: hash})
}

// handleRemoveSong deletes the document resolved by the removal gate and
// its file once nothing else references it.
//
// Endpoint: DELETE /songs
//
// Response:
//   - 200 OK: SongResponse of the removed song
//   - 404 Not Found: no song with that title
func (s *Server) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc := gateway.DocumentFrom(ctx)
	if doc == nil {
		gateway.WriteError(w, r, fmt.Errorf("removal: %w", catalog.ErrNotFound))
		return
	}

	s.mutate.Lock()
	defer s.mutate.Unlock()

	if err := s.catalog.Delete(ctx, doc.Title); err != nil {
		gateway.WriteError(w, r, fmt.Errorf("deleting %q: %w", doc.Title, err))
		return
	}
	s.dropUnreferenced(ctx, doc.FileHash)

	logging.FromContext(ctx).Info("song removed", "title", doc.Title, "client", gateway.ClientAddress(ctx))
	writeJSON(w, http.StatusOK, SongResponse{Title: doc.Title, FileHash: doc.FileHash})
}

// dropUnreferenced deletes a blob no document points at. Failures leave
// an orphan behind, which is only logged. Callers hold mutate.
func (s *Server) dropUnreferenced(ctx context.Context, hash string) {
	logger := logging.FromContext(ctx)

	n, err := s.catalog.CountByFileHash(ctx, hash)
	if err != nil {
		logger.Warn("counting file references", "hash", hash, "error", err)
		return
	}
	if n > 0 {
		return
	}
	if err := s.files.Delete(hash); err != nil {
		logger.Warn("deleting file", "hash", hash, "error", err)
	}
}

func parsePriority(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < -1 || p > 1 {
		return 0, fmt.Errorf("%w: priority must be -1, 0 or 1, got %q", catalog.ErrInvalidInput, raw)
	}
	return p, nil
}
