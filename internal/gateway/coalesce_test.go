package gateway

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remixScorer treats a title and its "(Remix)" variant as the same song
func remixScorer(a, b string) float64 {
	if a == b || a+" (Remix)" == b || b+" (Remix)" == a {
		return 0.95
	}
	return 0.1
}

func TestSongKeys(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		tracked []string
		want    []string
	}{
		{"nothing in flight", "Song A", nil, []string{"Song A"}},
		{"similar title joins", "Song A (Remix)", []string{"Song A", "Song B"}, []string{"Song A (Remix)", "Song A"}},
		{"unrelated stays alone", "Other - Tune", []string{"Song A"}, []string{"Other - Tune"}},
		{"own title not repeated", "Song A", []string{"Song A"}, []string{"Song A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SongKeys(tt.title, tt.tracked, remixScorer, 0.91))
		})
	}

	t.Run("threshold is inclusive", func(t *testing.T) {
		exactly := func(string, string) float64 { return 0.91 }
		assert.Equal(t, []string{"a", "b"}, SongKeys("a", []string{"b"}, exactly, 0.91))
	})
}

// blockingSubmissions records which titles are inside the handler and
// holds them there until released
type blockingSubmissions struct {
	mu      sync.Mutex
	running map[string]bool
	entered chan string
	release map[string]chan struct{}
}

func newBlockingSubmissions(titles ...string) *blockingSubmissions {
	b := &blockingSubmissions{
		running: make(map[string]bool),
		entered: make(chan string, len(titles)),
		release: make(map[string]chan struct{}),
	}
	for _, title := range titles {
		b.release[title] = make(chan struct{})
	}
	return b
}

func (b *blockingSubmissions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	b.mu.Lock()
	b.running[title] = true
	b.mu.Unlock()
	b.entered <- title

	<-b.release[title]

	b.mu.Lock()
	b.running[title] = false
	b.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func submit(h http.Handler, title string) <-chan int {
	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/songs?title="+url.QueryEscape(title), nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		done <- rec.Code
	}()
	return done
}

func waitForKeys(t *testing.T, f *fixture, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.gw.Guard().Keys()) >= n }, time.Second, 5*time.Millisecond)
}

func newCoalescingFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := newFixture(t, opts)
	f.gw.score = remixScorer
	return f
}

func TestRequestQueueSong(t *testing.T) {
	opts := Options{SimilarityThreshold: 0.91, QueueTimeout: 5 * time.Second}

	t.Run("similar titles run one at a time", func(t *testing.T) {
		f := newCoalescingFixture(t, opts)
		subs := newBlockingSubmissions("Song A", "Song A (Remix)")
		h := f.gw.RequestQueueSong(subs)

		first := submit(h, "Song A")
		require.Equal(t, "Song A", <-subs.entered)

		second := submit(h, "Song A (Remix)")
		waitForKeys(t, f, 2)
		select {
		case title := <-subs.entered:
			t.Fatalf("%q ran while a similar submission was in flight", title)
		case <-time.After(50 * time.Millisecond):
		}

		close(subs.release["Song A"])
		assert.Equal(t, http.StatusCreated, <-first)
		assert.Equal(t, "Song A (Remix)", <-subs.entered)

		close(subs.release["Song A (Remix)"])
		assert.Equal(t, http.StatusCreated, <-second)
		assert.Empty(t, f.gw.Guard().Keys())
	})

	t.Run("unrelated titles run concurrently", func(t *testing.T) {
		f := newCoalescingFixture(t, opts)
		subs := newBlockingSubmissions("Song A", "Other - Tune")
		h := f.gw.RequestQueueSong(subs)

		first := submit(h, "Song A")
		second := submit(h, "Other - Tune")

		got := map[string]bool{<-subs.entered: true, <-subs.entered: true}
		assert.Equal(t, map[string]bool{"Song A": true, "Other - Tune": true}, got)

		close(subs.release["Song A"])
		close(subs.release["Other - Tune"])
		assert.Equal(t, http.StatusCreated, <-first)
		assert.Equal(t, http.StatusCreated, <-second)
	})

	t.Run("queued submission times out", func(t *testing.T) {
		f := newCoalescingFixture(t, Options{SimilarityThreshold: 0.91, QueueTimeout: 30 * time.Millisecond})
		subs := newBlockingSubmissions("Song A", "Song A (Remix)")
		h := f.gw.RequestQueueSong(subs)

		first := submit(h, "Song A")
		<-subs.entered

		assert.Equal(t, http.StatusServiceUnavailable, <-submit(h, "Song A (Remix)"))

		close(subs.release["Song A"])
		assert.Equal(t, http.StatusCreated, <-first)
	})

	t.Run("full queue rejects", func(t *testing.T) {
		f := newCoalescingFixture(t, Options{SimilarityThreshold: 0.91, QueueTimeout: 5 * time.Second, QueueMaxWaiting: 1})
		subs := newBlockingSubmissions("Song A", "Song A (Remix)")
		h := f.gw.RequestQueueSong(subs)

		first := submit(h, "Song A")
		<-subs.entered
		second := submit(h, "Song A (Remix)")
		require.Eventually(t, func() bool { return f.gw.Guard().Holders("Song A") == 1 && len(f.gw.Guard().Keys()) == 2 },
			time.Second, 5*time.Millisecond)

		assert.Equal(t, http.StatusTooManyRequests, <-submit(h, "Song A"))

		close(subs.release["Song A"])
		close(subs.release["Song A (Remix)"])
		assert.Equal(t, http.StatusCreated, <-first)
		assert.Equal(t, http.StatusCreated, <-second)
	})

	t.Run("missing title", func(t *testing.T) {
		f := newCoalescingFixture(t, opts)
		rec := httptest.NewRecorder()
		f.gw.RequestQueueSong(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/songs", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized form body", func(t *testing.T) {
		f := newCoalescingFixture(t, opts)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("title", "Song A"))
		part, err := mw.CreateFormFile("file", "song.mp3")
		require.NoError(t, err)
		_, _ = part.Write(songBytes(4096, false))
		require.NoError(t, mw.Close())

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/songs", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Body = http.MaxBytesReader(rec, req.Body, 1024)

		f.gw.RequestQueueSong(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, f.gw.Guard().Keys())
	})

	t.Run("slot released when the handler panics", func(t *testing.T) {
		f := newCoalescingFixture(t, opts)
		h := f.gw.RequestQueueSong(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		req := httptest.NewRequest(http.MethodPost, "/songs?title=Song+A", nil)
		assert.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), req) })
		assert.Empty(t, f.gw.Guard().Keys())
	})
}
