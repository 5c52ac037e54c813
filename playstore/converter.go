package playstore

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// Converter renders store HTML as markdown. Listing descriptions
// arrive as HTML fragments; full pages go through readability first to
// isolate the listing body from the page chrome.
type Converter struct {
	converter *md.Converter
}

// NewConverter returns a converter with GitHub flavoured markdown
// rules.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// defaultConverter serves the document compression path.
var defaultConverter = NewConverter()

// Markdown converts an HTML fragment to cleaned markdown.
func (c *Converter) Markdown(fragment string) (string, error) {
	markdown, err := c.converter.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return cleanMarkdown(markdown), nil
}

// ExtractDescription pulls the main content out of a full store page
// and renders it as markdown. Used when a listing response carries the
// raw page instead of a parsed description.
func (c *Converter) ExtractDescription(pageURL string, page []byte) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(page), parsed)
	if err != nil {
		return "", fmt.Errorf("extract page content: %w", err)
	}
	return c.Markdown(article.Content)
}

// normalizeDescription renders an HTML description as markdown.
// Descriptions without markup pass through unchanged.
func normalizeDescription(description string) string {
	if !strings.Contains(description, "<") && !strings.Contains(description, "&lt;") {
		return description
	}
	markdown, err := defaultConverter.Markdown(html.UnescapeString(description))
	if err != nil {
		return description
	}
	return markdown
}

// cleanMarkdown collapses the blank-line runs and trailing whitespace
// the conversion leaves behind.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
