package blocks

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText is the searchable text of a block.
func PlainText(c Content) string {
	switch v := c.(type) {
	case HeadingContent:
		return v.Text
	case BodyContent:
		return StripHTML(v.HTML)
	case ImageContent:
		return joinNonEmpty(v.Alt, v.Caption)
	case VideoContent:
		return v.Caption
	case TableContent:
		var cells []string
		for _, row := range v.Rows {
			cells = append(cells, row...)
		}
		return joinNonEmpty(cells...)
	case CodeContent:
		return v.Code
	default:
		return ""
	}
}

// PlainTextOf decodes a stored block and returns its text. Undecodable rows
// fall back to their markup-stripped raw value.
func PlainTextOf(t Type, stored string) string {
	c, err := Decode(t, stored)
	if err != nil {
		return StripHTML(stored)
	}
	return PlainText(c)
}

// StripHTML returns the text nodes of fragment with whitespace collapsed.
func StripHTML(fragment string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read.
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li", "tr", "td", "th", "h1", "h2", "h3":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "td", "th":
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
