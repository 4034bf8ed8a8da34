package match

import "strings"

// Quantifier says how many of a rule's words must appear for it to hold
type Quantifier int

const (
	// QuantifierSubstring: a single significant word (or none) matched as a substring
	QuantifierSubstring Quantifier = iota
	// QuantifierAny: two significant words, either one is enough
	QuantifierAny
	// QuantifierAll: more than two significant words, all of them required
	QuantifierAll
)

func (q Quantifier) String() string {
	switch q {
	case QuantifierAny:
		return "any"
	case QuantifierAll:
		return "all"
	default:
		return "substring"
	}
}

// Rule is a compiled title or search term criterion
type Rule struct {
	Phrase     string   // normalized source phrase
	Words      []string // significant words of the phrase
	Quantifier Quantifier
}

// Compile builds the rule for one bundle title or search term.
// An exact phrase occurrence always satisfies a rule with two or more words.
func Compile(phrase string) Rule {
	r := Rule{
		Phrase: Normalize(phrase),
		Words:  SignificantWords(phrase, minWordLen),
	}

	switch n := len(r.Words); {
	case n <= 1:
		r.Quantifier = QuantifierSubstring
	case n == 2:
		r.Quantifier = QuantifierAny
	default:
		r.Quantifier = QuantifierAll
	}

	return r
}

// Empty reports whether the rule can never match
func (r Rule) Empty() bool {
	return r.Phrase == ""
}

// Matches evaluates the rule against normalized text
func (r Rule) Matches(text string) bool {
	if r.Empty() {
		return false
	}

	if strings.Contains(text, r.Phrase) {
		return true
	}

	switch r.Quantifier {
	case QuantifierAny:
		for _, w := range r.Words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	case QuantifierAll:
		return r.allWordsIn(text)
	default:
		// No significant words: only the full phrase counts
		if len(r.Words) == 0 {
			return false
		}
		return strings.Contains(text, r.Words[0])
	}
}

// MultiWord reports whether the rule has more than one significant word
func (r Rule) MultiWord() bool {
	return len(r.Words) > 1
}

func (r Rule) allWordsIn(text string) bool {
	if len(r.Words) == 0 {
		return false
	}
	for _, w := range r.Words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
