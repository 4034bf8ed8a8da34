package match

import (
	"strings"
	"time"
)

// Score weights
const (
	titleWordExact   = 15
	titleWordPartial = 5

	termTitleExact = 25
	termBodyExact  = 15
	termTitleWords = 20
	termBodyWords  = 10

	keywordTitle = 5
	keywordBody  = 3

	recencyDay   = 5
	recencyThree = 3
	recencyWeek  = 1

	sourceDiversity = 3
)

// Scorer computes the heuristic relevance of a text against compiled criteria
type Scorer struct {
	lowSignalFeedType string
	now               func() time.Time
}

func NewScorer(lowSignalFeedType string, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{lowSignalFeedType: strings.ToLower(lowSignalFeedType), now: now}
}

func (s *Scorer) score(doc document, c *Criteria) int {
	total := 0

	for _, w := range c.titleWords {
		switch {
		case ContainsWord(doc.title, w):
			total += titleWordExact
		case strings.Contains(doc.title, w):
			total += titleWordPartial
		}
	}

	for _, r := range c.scoringTerms {
		switch {
		case strings.Contains(doc.title, r.Phrase):
			total += termTitleExact
		case r.MultiWord() && r.allWordsIn(doc.title):
			total += termTitleWords
		}
		switch {
		case strings.Contains(doc.body, r.Phrase):
			total += termBodyExact
		case r.MultiWord() && r.allWordsIn(doc.body):
			total += termBodyWords
		}
	}

	for _, k := range c.keywords {
		if strings.Contains(doc.title, k) {
			total += keywordTitle
		}
		if strings.Contains(doc.body, k) {
			total += keywordBody
		}
	}

	total += s.recencyBoost(doc.published)

	if !strings.EqualFold(doc.feedType, s.lowSignalFeedType) {
		total += sourceDiversity
	}

	return total
}

func (s *Scorer) recencyBoost(published time.Time) int {
	if published.IsZero() {
		return 0
	}

	age := s.now().Sub(published)
	switch {
	case age < 24*time.Hour:
		return recencyDay
	case age < 72*time.Hour:
		return recencyThree
	case age < 7*24*time.Hour:
		return recencyWeek
	default:
		return 0
	}
}
