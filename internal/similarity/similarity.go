// Package similarity scores how close two song titles are, so near
// duplicates ("Artist - Song", "artist - song!", "Artist - Sóng") can be
// treated as the same submission.
package similarity

import (
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/mozillazg/go-unidecode"
)

// Scorer returns a closeness score in [0, 1] for two titles
type Scorer func(a, b string) float64

// dice compares character bigrams, which tolerates typos and small
// insertions better than edit distance on short titles
var dice = &metrics.SorensenDice{
	CaseSensitive: false,
	NgramSize:     2,
}

// Score compares two titles after normalization. Identical normalized
// titles score 1.
func Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	if na == "" || nb == "" {
		return 0
	}
	return strutil.Similarity(na, nb, dice)
}

// Normalize transliterates a title to ASCII, lowercases it, drops
// punctuation and collapses whitespace.
func Normalize(title string) string {
	ascii := unidecode.Unidecode(title)

	var b strings.Builder
	b.Grow(len(ascii))
	space := false
	for _, r := range strings.ToLower(ascii) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
