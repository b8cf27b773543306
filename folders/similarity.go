package folders

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics are stripped from the start of a name. Matching happens after
// punctuation removal, so "Dr." and "Dr" are treated alike.
var honorifics = []string{"dr", "prof", "drs", "ir", "hj"}

// givenNamePrefixes are common leading given names that carry little signal
// in a participant roster. Stripping them is opt-in because it turns
// "Muhammad Ali" and "Ali" into the same name.
var givenNamePrefixes = []string{"muhammad", "mohammad", "ahmad", "abdul", "abu", "siti", "dewi"}

// Normalizer canonicalizes display names and scores how alike two names are.
type Normalizer struct {
	prefixes map[string]struct{}
}

// NewNormalizer returns a normalizer stripping honorifics and, when
// stripGivenNames is set, the common given-name prefixes.
func NewNormalizer(stripGivenNames bool) *Normalizer {
	words := honorifics
	if stripGivenNames {
		words = append(append([]string{}, honorifics...), givenNamePrefixes...)
	}
	n := &Normalizer{prefixes: make(map[string]struct{}, len(words))}
	for _, w := range words {
		n.prefixes[w] = struct{}{}
	}
	return n
}

var defaultNormalizer = NewNormalizer(false)

// Normalize canonicalizes name with the default normalizer.
func Normalize(name string) string {
	return defaultNormalizer.Normalize(name)
}

// Similarity scores a and b with the default normalizer.
func Similarity(a, b string) float64 {
	return defaultNormalizer.Similarity(a, b)
}

// Normalize folds diacritics, lowercases, drops everything outside
// [a-z0-9] and whitespace, collapses whitespace and strips leading prefix
// words. A prefix is only stripped when another word follows it.
// Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(name string) string {
	// Chained transformers carry state, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 1 {
		if _, ok := n.prefixes[words[0]]; !ok {
			break
		}
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// Similarity returns a score in [0, 1]:
//   - 1.0 when both names normalize to the same string
//   - 0.8 when one normalized name contains the other
//   - otherwise shared words / size of the larger word set
func (n *Normalizer) Similarity(a, b string) float64 {
	na, nb := n.Normalize(a), n.Normalize(b)
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	wa := lo.Uniq(strings.Fields(na))
	wb := lo.Uniq(strings.Fields(nb))
	total := max(len(wa), len(wb))
	if total == 0 {
		return 0
	}

	inB := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		inB[w] = struct{}{}
	}
	shared := 0
	for _, w := range wa {
		if _, ok := inB[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(total)
}
