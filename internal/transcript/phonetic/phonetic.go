// Package phonetic snaps near-miss words in final transcripts to an agent's
// configured keywords.
//
// Speech recognizers routinely mangle proper nouns and domain terms that never
// appeared in their training data ("post grass" for "Postgres", "cuber netties"
// for "Kubernetes"). The Corrector fixes the single-word cases: a word is
// replaced by a keyword when the two share a Double Metaphone code and their
// Levenshtein distance is at most 2. Punctuation attached to the word and the
// word's capitalization are preserved.
//
// Only final transcripts should be corrected. Partials are latency-critical
// and get re-emitted anyway, so correcting them buys nothing.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// maxEditDistance is the Levenshtein ceiling for accepting a phonetic match.
// Beyond two edits the words sound alike but are probably different terms.
const maxEditDistance = 2

// keyword is a configured term with its precomputed phonetic codes.
type keyword struct {
	text      string
	lower     string
	primary   string
	secondary string
}

// Corrector rewrites words that phonetically match a configured keyword.
// It is read-only after construction and safe for concurrent use.
type Corrector struct {
	keywords []keyword
}

// NewCorrector builds a Corrector for the given keywords. Empty and blank
// entries are ignored. A nil or empty keyword list yields a Corrector whose
// Correct is the identity function.
func NewCorrector(keywords []string) *Corrector {
	c := &Corrector{keywords: make([]keyword, 0, len(keywords))}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p, s := matchr.DoubleMetaphone(strings.ToLower(k))
		c.keywords = append(c.keywords, keyword{
			text:      k,
			lower:     strings.ToLower(k),
			primary:   p,
			secondary: s,
		})
	}
	return c
}

// Correct returns text with near-miss words snapped to their keywords.
// Whitespace between words collapses to single spaces; leading and trailing
// punctuation on each word survives the replacement.
func (c *Corrector) Correct(text string) string {
	if len(c.keywords) == 0 || text == "" {
		return text
	}

	fields := strings.Fields(text)
	changed := false
	for i, f := range fields {
		prefix, core, suffix := splitPunct(f)
		if core == "" {
			continue
		}
		replacement, ok := c.match(core)
		if !ok {
			continue
		}
		fields[i] = prefix + matchCase(core, replacement) + suffix
		changed = true
	}
	if !changed {
		return text
	}
	return strings.Join(fields, " ")
}

// match finds the keyword closest to word, requiring a shared Double Metaphone
// code and an edit distance of at most maxEditDistance. Ties break toward the
// smaller distance; an exact (case-insensitive) hit returns immediately.
func (c *Corrector) match(word string) (string, bool) {
	lower := strings.ToLower(word)
	wp, ws := matchr.DoubleMetaphone(lower)

	best := ""
	bestDist := maxEditDistance + 1
	for _, k := range c.keywords {
		if lower == k.lower {
			// Already the keyword; nothing to fix.
			return "", false
		}
		if !codesMatch(wp, ws, k.primary, k.secondary) {
			continue
		}
		d := matchr.Levenshtein(lower, k.lower)
		if d < bestDist {
			best, bestDist = k.text, d
		}
	}
	return best, best != ""
}

func codesMatch(p1, s1, p2, s2 string) bool {
	if p1 == "" && s1 == "" {
		return false
	}
	return (p1 != "" && (p1 == p2 || p1 == s2)) ||
		(s1 != "" && (s1 == p2 || s1 == s2))
}

// splitPunct peels leading and trailing non-letter, non-digit runes off a
// field so that "Postgras," corrects to "Postgres," and not at all to a
// mangled middle.
func splitPunct(field string) (prefix, core, suffix string) {
	runes := []rune(field)
	start := 0
	for start < len(runes) && !isWordRune(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && !isWordRune(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matchCase carries the original word's capitalization onto the replacement:
// an all-caps original uppercases the keyword, a leading capital title-cases
// it, anything else keeps the keyword's configured casing.
func matchCase(original, replacement string) string {
	if original == strings.ToUpper(original) && strings.ToLower(original) != original {
		return strings.ToUpper(replacement)
	}
	first := []rune(original)[0]
	if unicode.IsUpper(first) {
		r := []rune(replacement)
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	}
	return replacement
}
