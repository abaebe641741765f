package classifier

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "about": {}, "any": {}, "at": {}, "be": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "get": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"please": {}, "should": {}, "some": {}, "tell": {}, "that": {}, "the": {}, "there": {},
	"this": {}, "to": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "with": {}, "you": {}, "your": {}, "we": {}, "our": {}, "info": {},
}

// Normalize lowercases q and collapses every run of non-alphanumeric
// characters into a single space.
func Normalize(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	space := true
	for _, r := range strings.ToLower(q) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Words returns the normalized words of q.
func Words(q string) []string {
	return strings.Fields(Normalize(q))
}

// Keywords returns the distinct significant words of q in order of first use.
func Keywords(q string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range Words(q) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if len([]rune(w)) < 2 {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// SignificantWordCount counts the words of q that are not stop words.
func SignificantWordCount(q string) int {
	n := 0
	for _, w := range Words(q) {
		if _, stop := stopWords[w]; !stop {
			n++
		}
	}
	return n
}

// hasTerm matches a word or phrase on word boundaries. The last word may
// carry a plural "s".
func hasTerm(normalized, term string) bool {
	term = Normalize(term)
	if term == "" {
		return false
	}
	padded := " " + normalized + " "
	return strings.Contains(padded, " "+term+" ") || strings.Contains(padded, " "+term+"s ")
}

func hasAny(normalized string, terms []string) bool {
	for _, t := range terms {
		if hasTerm(normalized, t) {
			return true
		}
	}
	return false
}
