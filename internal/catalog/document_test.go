package catalog

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateTitle checks the "Artist - Title" rules
func TestValidateTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{name: "simple", title: "Artist - Song"},
		{name: "unicode", title: "Кино - Группа крови"},
		{name: "dash inside title", title: "AC-DC - Back In Black"},
		{name: "empty", title: "", wantErr: true},
		{name: "spaces only", title: "   ", wantErr: true},
		{name: "no separator", title: "Just a song", wantErr: true},
		{name: "missing artist", title: " - Song", wantErr: true},
		{name: "missing name", title: "Artist - ", wantErr: true},
		{name: "too long", title: "A - " + strings.Repeat("x", MaxTitleLength), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTitle(tt.title)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// TestTitleEncoding verifies encoded titles survive a round trip and that
// links produced with other base64 flavours still decode
func TestTitleEncoding(t *testing.T) {
	title := "Sigur Rós - Hoppípolla?"

	encoded := EncodeTitle(title)
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeTitle(encoded)
	require.NoError(t, err)
	assert.Equal(t, title, decoded)

	t.Run("padded standard alphabet", func(t *testing.T) {
		std := base64.StdEncoding.EncodeToString([]byte(title))
		decoded, err := DecodeTitle(std)
		require.NoError(t, err)
		assert.Equal(t, title, decoded)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeTitle("!!!")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := DecodeTitle(base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xfe}))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

// TestMemoryStore tests the in-memory document store
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("absent documents are nil without error", func(t *testing.T) {
		store := NewMemoryStore()

		doc, err := store.GetByTitle(ctx, "A - B")
		assert.NoError(t, err)
		assert.Nil(t, doc)

		doc, err = store.GetByFileHash(ctx, "abc")
		assert.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("save and lookup", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Save(ctx, &Document{Title: "A - B", FileHash: "h1", Priority: 1}))

		byTitle, err := store.GetByTitle(ctx, "A - B")
		require.NoError(t, err)
		require.NotNil(t, byTitle)
		assert.Equal(t, "h1", byTitle.FileHash)
		assert.True(t, byTitle.Protected())

		byHash, err := store.GetByFileHash(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, byHash)
		assert.Equal(t, "A - B", byHash.Title)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Save(ctx, &Document{Title: "A - B", FileHash: "h1"}))

		doc, _ := store.GetByTitle(ctx, "A - B")
		doc.FileHash = "changed"

		again, _ := store.GetByTitle(ctx, "A - B")
		assert.Equal(t, "h1", again.FileHash)
	})

	t.Run("access accounting", func(t *testing.T) {
		store := NewMemoryStore()
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		store.now = func() time.Time { return at }
		require.NoError(t, store.Save(ctx, &Document{Title: "A - B", FileHash: "h1"}))

		doc, _ := store.GetByTitle(ctx, "A - B")
		require.NoError(t, store.Access(ctx, doc))
		require.NoError(t, store.Access(ctx, doc))

		assert.Equal(t, int64(2), doc.Accesses)
		assert.Equal(t, at, doc.AccessedAt)

		stored, _ := store.GetByTitle(ctx, "A - B")
		assert.Equal(t, int64(2), stored.Accesses)
	})

	t.Run("access of a deleted document fails", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.Access(ctx, &Document{Title: "gone - gone"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete and count", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Save(ctx, &Document{Title: "A - B", FileHash: "h1"}))
		require.NoError(t, store.Save(ctx, &Document{Title: "A - C", FileHash: "h1"}))

		n, err := store.CountByFileHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, store.Delete(ctx, "A - B"))
		require.NoError(t, store.Delete(ctx, "A - B"))

		n, _ = store.CountByFileHash(ctx, "h1")
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent access", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Save(ctx, &Document{Title: "A - B", FileHash: "h1"}))

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				doc, _ := store.GetByTitle(ctx, "A - B")
				_ = store.Access(ctx, doc)
			}()
		}
		wg.Wait()

		doc, _ := store.GetByTitle(ctx, "A - B")
		assert.Equal(t, int64(50), doc.Accesses)
	})
}
