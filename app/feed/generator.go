package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/cache"
)

// Generator renders a bundle story list as an RSS 2.0 document
type Generator struct {
	baseURL string
	version string
	now     func() time.Time
}

// NewGenerator builds self links from baseURL, falling back to localhost:port when it is empty
func NewGenerator(baseURL, port, version string) *Generator {
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	return &Generator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: version,
		now:     time.Now,
	}
}

func (g *Generator) Run(b bundle.Bundle, stories []cache.Story) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:media="http://search.yahoo.com/mrss/">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", b.Title, 4)
	g.writeElement(&buf, "link", fmt.Sprintf("%s/bundles/%s/stories", g.baseURL, b.ID), 4)
	g.writeElement(&buf, "description", cmp.Or(b.Description, fmt.Sprintf("Stories matching %s", b.Title)), 4)

	selfLink := fmt.Sprintf("%s/bundles/%s/feed.xml", g.baseURL, b.ID)
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	var lastBuildDate time.Time
	for _, story := range stories {
		if story.PublishedAt.After(lastBuildDate) {
			lastBuildDate = story.PublishedAt
		}
	}
	if lastBuildDate.IsZero() {
		lastBuildDate = g.now().UTC()
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("RSS-Bundles/%s", g.version), 4)

	for _, story := range stories {
		g.writeItem(&buf, story)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, story cache.Story) {
	buf.WriteString("    <item>\n")

	guid := cmp.Or(story.URL, story.ID)
	buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", g.isURL(guid)))
	xml.EscapeText(buf, []byte(guid))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", story.Title, 6)
	g.writeElement(buf, "link", story.URL, 6)
	g.writeElement(buf, "description", cmp.Or(story.Description, "No description available"), 6)

	if !story.PublishedAt.IsZero() {
		g.writeElement(buf, "pubDate", story.PublishedAt.Format(time.RFC1123Z), 6)
	}

	g.writeElement(buf, "category", story.SourceType, 6)

	g.writeElement(buf, "category", story.SourceName, 6)

	if story.Thumbnail != "" {
		buf.WriteString(fmt.Sprintf("      <media:thumbnail url=\"%s\" />\n", html.EscapeString(story.Thumbnail)))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
