package feed

import (
	"strings"
	"testing"
)

const articleHTML = `
<!DOCTYPE html>
<html>
<head>
	<title>Test Article</title>
</head>
<body>
	<header>
		<h1>Site Header</h1>
		<nav>Navigation</nav>
	</header>
	<main>
		<article>
			<h1>Main Article Title</h1>
			<p>This is the main content of the article. It contains several paragraphs of meaningful text that should be extracted by the readability algorithm.</p>
			<p>This is another paragraph with more content. The readability algorithm should identify this as the main content area and extract it properly.</p>
			<p>Here is some more substantial content to ensure we meet the character threshold. This paragraph adds more context and information that would be valuable to readers.</p>
			<p><a href="/related">Related reading</a> continues the story with even more detail for the curious reader.</p>
		</article>
	</main>
	<aside>
		<div>Advertisement</div>
	</aside>
	<footer>
		<p>Copyright 2024</p>
	</footer>
	<script>console.log("tracking")</script>
</body>
</html>
`

func TestContentExtractor_ValidHTML(t *testing.T) {
	result, err := NewContentExtractor().Run([]byte(articleHTML), "https://example.com/article")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(result, "main content of the article") {
		t.Errorf("Expected extracted content to contain main article text")
	}
	if strings.Contains(result, "Advertisement") {
		t.Errorf("Expected extracted content to exclude advertisement")
	}
	if strings.Contains(result, "tracking") {
		t.Errorf("Expected extracted content to exclude scripts")
	}
}

func TestContentExtractor_WithoutPageURL(t *testing.T) {
	result, err := NewContentExtractor().Run([]byte(articleHTML), "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result == "" {
		t.Error("Expected non-empty result")
	}
}

func TestContentExtractor_EmptyData(t *testing.T) {
	for _, data := range [][]byte{nil, {}} {
		result, err := NewContentExtractor().Run(data, "")
		if err == nil {
			t.Error("Expected error for empty data")
		}
		if result != "" {
			t.Errorf("Expected empty result, got: %s", result)
		}
	}
}

func TestContentExtractor_InvalidPageURL(t *testing.T) {
	_, err := NewContentExtractor().Run([]byte(articleHTML), "http://[::1")
	if err == nil {
		t.Error("Expected error for invalid page URL")
	}
}
