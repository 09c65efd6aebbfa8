package search

import (
	"context"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PreviewLength is the number of characters of block text shown in a hit.
const PreviewLength = 200

type ManualHit struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type SectionHit struct {
	ID          string `json:"id"`
	ManualID    string `json:"manualId"`
	ManualTitle string `json:"manualTitle"`
	Title       string `json:"title"`
}

type BlockHit struct {
	ID           string `json:"id"`
	ManualID     string `json:"manualId"`
	ManualTitle  string `json:"manualTitle"`
	SectionID    string `json:"sectionId"`
	SectionTitle string `json:"sectionTitle"`
	Type         string `json:"type"`
	Preview      string `json:"preview"`
}

// Query describes a search request. ManualIDs is the caller's access scope;
// an empty scope matches nothing.
type Query struct {
	Text      string
	ManualIDs []string
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Query    string       `json:"query"`
	Manuals  []ManualHit  `json:"manuals"`
	Sections []SectionHit `json:"sections"`
	Blocks   []BlockHit   `json:"blocks"`
}

// Searcher can execute a substring search over manuals, sections and blocks.
type Searcher interface {
	Search(ctx context.Context, q Query) (Response, error)
	Healthy() bool
}

// ManualRecord is the data we index for a manual.
type ManualRecord struct {
	ID          string `json:"id"`
	ManualID    string `json:"manualId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SectionRecord is the data we index for a section.
type SectionRecord struct {
	ID          string `json:"id"`
	ManualID    string `json:"manualId"`
	ManualTitle string `json:"manualTitle"`
	Title       string `json:"title"`
}

// BlockRecord is the data we index for a block. Text is the block's plain
// text, not its stored form.
type BlockRecord struct {
	ID           string `json:"id"`
	ManualID     string `json:"manualId"`
	ManualTitle  string `json:"manualTitle"`
	SectionID    string `json:"sectionId"`
	SectionTitle string `json:"sectionTitle"`
	Type         string `json:"type"`
	Text         string `json:"text"`
}

func emptyResponse(text string) Response {
	return Response{Query: text, Manuals: []ManualHit{}, Sections: []SectionHit{}, Blocks: []BlockHit{}}
}

// Contains reports whether text contains query, ignoring case.
func Contains(text, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}

// Preview truncates text to PreviewLength characters, escapes it for HTML
// and wraps every case-insensitive occurrence of query in <mark>.
func Preview(text, query string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > PreviewLength {
		runes := []rune(text)
		text = string(runes[:PreviewLength]) + "..."
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return html.EscapeString(text)
	}
	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return html.EscapeString(text)
	}
	var b strings.Builder
	last := 0
	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(text[loc[0]:loc[1]]))
		b.WriteString("</mark>")
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

// escapeLike escapes the ILIKE wildcards in a literal search term.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(term) + "%"
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
