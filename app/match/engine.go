package match

import (
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/rss-bundles/app/bundle"
)

// Item is the text of one feed item as seen by the matcher
type Item struct {
	FeedID      string
	FeedType    string
	Title       string
	Snippet     string
	Description string
	Content     string
	URL         string
	Author      string
	Categories  []string
	PublishDate time.Time
}

// Match is a scored association of an item with a bundle
type Match struct {
	BundleID     string
	Score        int
	MatchedTerms []string // sorted, distinct
}

// Criteria is the compiled form of a bundle definition
type Criteria struct {
	bundle       bundle.Bundle
	title        Rule
	terms        []Rule
	scoringTerms []Rule // search terms plus the title when it is not one of them
	titleWords   []string
	keywords     []string
}

// CompileBundle prepares a bundle for repeated matching
func CompileBundle(b bundle.Bundle) *Criteria {
	c := &Criteria{
		bundle:     b,
		title:      Compile(b.Title),
		titleWords: SignificantWords(b.Title, minWordLen),
		keywords:   SignificantWords(b.Description, minKeywordLen),
	}

	titleIsTerm := false
	for _, term := range b.SearchTerms {
		r := Compile(term)
		if r.Empty() {
			continue
		}
		if r.Phrase == c.title.Phrase {
			titleIsTerm = true
		}
		c.terms = append(c.terms, r)
	}

	c.scoringTerms = c.terms
	if !titleIsTerm && !c.title.Empty() {
		c.scoringTerms = append(slices.Clone(c.terms), c.title)
	}

	return c
}

func (c *Criteria) BundleID() string {
	return c.bundle.ID
}

type document struct {
	title     string
	body      string
	full      string
	feedType  string
	published time.Time
}

func newDocument(item Item) document {
	parts := []string{item.Snippet, item.Description, item.Content, item.URL, item.Author}
	parts = append(parts, item.Categories...)

	title := Normalize(item.Title)
	body := Normalize(strings.Join(parts, " "))

	return document{
		title:     title,
		body:      body,
		full:      title + " " + body,
		feedType:  item.FeedType,
		published: item.PublishDate,
	}
}

// Engine matches items against bundle criteria. It has no side effects.
type Engine struct {
	scorer *Scorer
}

func NewEngine(scorer *Scorer) *Engine {
	return &Engine{scorer: scorer}
}

// MatchItemAgainstBundles returns one match per qualifying bundle, in bundle order
func (e *Engine) MatchItemAgainstBundles(item Item, bundles []bundle.Bundle) []Match {
	doc := newDocument(item)

	var matches []Match
	for _, b := range bundles {
		if m, ok := e.evaluate(doc, item.FeedID, CompileBundle(b)); ok {
			matches = append(matches, m)
		}
	}
	return matches
}

// Evaluate scores one item against precompiled criteria
func (e *Engine) Evaluate(item Item, c *Criteria) (Match, bool) {
	return e.evaluate(newDocument(item), item.FeedID, c)
}

func (e *Engine) evaluate(doc document, feedID string, c *Criteria) (Match, bool) {
	if !c.bundle.IncludesFeed(feedID) {
		return Match{}, false
	}

	var terms []string
	if c.title.Matches(doc.full) {
		terms = append(terms, c.title.Phrase)
	}
	for _, r := range c.terms {
		if r.Matches(doc.full) {
			terms = append(terms, r.Phrase)
		}
	}
	if len(terms) == 0 {
		return Match{}, false
	}

	score := e.scorer.score(doc, c)
	if score <= 0 {
		return Match{}, false
	}

	slices.Sort(terms)
	return Match{
		BundleID:     c.bundle.ID,
		Score:        score,
		MatchedTerms: slices.Compact(terms),
	}, true
}
