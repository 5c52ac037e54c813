package playstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownConversion(t *testing.T) {
	converter := NewConverter()

	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "inline markup",
			html:     "<b>Hello</b> world",
			expected: "**Hello** world",
		},
		{
			name:     "paragraphs collapse to blank lines",
			html:     "<p>First</p><p>Second</p>",
			expected: "First\n\nSecond",
		},
		{
			name:     "links become markdown links",
			html:     `<a href="https://example.com">Example</a>`,
			expected: "[Example](https://example.com)",
		},
		{
			name:     "empty input",
			html:     "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := converter.Markdown(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name        string
		description string
		expected    string
	}{
		{
			name:        "plain text passes through",
			description: "Launch tiny rockets.",
			expected:    "Launch tiny rockets.",
		},
		{
			name:        "escaped markup converts",
			description: "Play the &lt;b&gt;best&lt;/b&gt; game",
			expected:    "Play the **best** game",
		},
		{
			name:        "raw markup converts",
			description: "Play the <b>best</b> game",
			expected:    "Play the **best** game",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeDescription(tt.description))
		})
	}
}

func TestCleanMarkdownCollapsesBlankRuns(t *testing.T) {
	messy := "Title\n\n\n\n\nBody  \nTail\t\n"
	assert.Equal(t, "Title\n\nBody\nTail", cleanMarkdown(messy))
}

func TestExtractDescription(t *testing.T) {
	paragraph := strings.Repeat("The wildlife sanctuary simulator lets you raise otters, map rivers and trade fish with neighbouring villages. ", 5)
	page := "<html><head><title>Example</title></head><body><article><h1>About this game</h1><p>" +
		paragraph + "</p></article></body></html>"

	converter := NewConverter()
	description, err := converter.ExtractDescription("https://play.google.com/store/apps/details?id=com.example.game", []byte(page))
	require.NoError(t, err)
	assert.Contains(t, description, "wildlife sanctuary simulator")
}
