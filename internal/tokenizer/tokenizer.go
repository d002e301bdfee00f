// Package tokenizer turns text lines into token sets for the join: lowercased
// words with stop-words removed and a light suffix stemmer, or character
// q-grams for near-duplicate string matching.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Mode selects how a line is split into terms.
type Mode string

const (
	ModeWords  Mode = "words"
	ModeQGrams Mode = "qgrams"
)

type Options struct {
	Mode Mode
	// Q is the gram length in q-gram mode.
	Q int
	// KeepStopWords and NoStem disable the word filters.
	KeepStopWords bool
	NoStem        bool
}

func DefaultOptions() Options {
	return Options{Mode: ModeWords, Q: 3}
}

// Terms splits text into terms according to opts. Duplicates are kept; the
// join's preprocessor collapses them.
func Terms(text string, opts Options) []string {
	if opts.Mode == ModeQGrams {
		return QGrams(text, opts.Q)
	}
	return Words(text, opts)
}

// Words lowercases text, splits on non-alphanumeric runes and filters the
// result.
func Words(text string, opts Options) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if !opts.KeepStopWords {
			if _, isStop := stopWords[word]; isStop {
				continue
			}
		}
		if !opts.NoStem {
			word = stem(word)
		}
		if word == "" {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// QGrams returns the overlapping rune q-grams of the lowercased, whitespace
// collapsed text, padded with '#' and '$' so short strings still produce
// grams and string boundaries count.
func QGrams(text string, q int) []string {
	if q < 1 {
		q = 1
	}
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if normalized == "" {
		return nil
	}
	padded := []rune(strings.Repeat("#", q-1) + normalized + strings.Repeat("$", q-1))
	grams := make([]string, 0, len(padded)-q+1)
	for i := 0; i+q <= len(padded); i++ {
		grams = append(grams, string(padded[i:i+q]))
	}
	return grams
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix when what is left is long enough.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
