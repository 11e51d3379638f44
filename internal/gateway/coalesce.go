package gateway

import (
	"net/http"

	"golang.org/x/exp/slices"

	"github.com/metasound/musiphone/internal/catalog"
	"github.com/metasound/musiphone/internal/queue"
	"github.com/metasound/musiphone/internal/similarity"
)

// SongKeys returns the coalescing keys for a submitted title: the title
// itself and every tracked key scoring at least threshold against it.
func SongKeys(title string, tracked []string, score similarity.Scorer, threshold float64) []string {
	keys := []string{title}
	for _, key := range tracked {
		if slices.Contains(keys, key) {
			continue
		}
		if score(key, title) >= threshold {
			keys = append(keys, key)
		}
	}
	return keys
}

func identity(key string) string { return key }

// RequestQueueSong serialises song submissions whose titles are similar
// enough to be the same song. Only one of them runs at a time; the rest
// wait for it, or fail once the queue times out or fills up.
func (g *Gateway) RequestQueueSong(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title, err := SubmittedTitle(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if title == "" {
			WriteError(w, r, catalog.ErrInvalidInput)
			return
		}

		build := func(tracked []string) []string {
			return SongKeys(title, tracked, g.score, g.opts.SimilarityThreshold)
		}
		release, err := g.guard.AcquireWith(r.Context(), build, queue.Options{
			Limit:      1,
			Hash:       identity,
			Timeout:    g.opts.QueueTimeout,
			MaxWaiting: g.opts.QueueMaxWaiting,
		})
		if err != nil {
			WriteError(w, r, err)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}
