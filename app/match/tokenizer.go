package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	minWordLen    = 3 // title and term words shorter than this are ignored
	minKeywordLen = 4 // description keywords shorter than this are ignored
)

// Normalize folds s to lower case and collapses runs of whitespace
func Normalize(s string) string {
	// Casers keep state and must not be shared between goroutines
	lowered := cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(lowered), " ")
}

// Words splits normalized text on anything that is not a letter or digit
func Words(s string) []string {
	return strings.FieldsFunc(s, isSeparator)
}

// SignificantWords returns the distinct words of s with at least minLen runes, in order
func SignificantWords(s string, minLen int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range Words(Normalize(s)) {
		if utf8.RuneCountInString(w) < minLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// ContainsWord reports whether word occurs in text bounded by separators or text edges
func ContainsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for offset := 0; ; {
		i := strings.Index(text[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isSeparator(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return isSeparator(r)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
