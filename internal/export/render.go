package export

import (
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/hoonjeong/menualic/internal/blocks"
	nethtml "golang.org/x/net/html"
)

// BlockHTML renders one stored block as an HTML fragment.
func BlockHTML(blockType, stored string) template.HTML {
	t := blocks.Type(blockType)
	c, err := blocks.Decode(t, stored)
	if err != nil {
		return template.HTML("<p>" + html.EscapeString(blocks.StripHTML(stored)) + "</p>\n")
	}

	switch v := c.(type) {
	case blocks.HeadingContent:
		// Section titles take h2..h4; block headings start below them.
		level := v.Level + 2
		return template.HTML(fmt.Sprintf("<h%d class=\"block-heading\">%s</h%d>\n", level, html.EscapeString(v.Text), level))
	case blocks.BodyContent:
		return template.HTML("<div class=\"body\">" + sanitizeBody(v.HTML) + "</div>\n")
	case blocks.ImageContent:
		if v.URL == "" {
			return ""
		}
		out := fmt.Sprintf("<figure><img src=\"%s\" alt=\"%s\">", html.EscapeString(v.URL), html.EscapeString(v.Alt))
		if v.Caption != "" {
			out += "<figcaption>" + html.EscapeString(v.Caption) + "</figcaption>"
		}
		return template.HTML(out + "</figure>\n")
	case blocks.VideoContent:
		if v.URL == "" {
			return ""
		}
		label := v.Caption
		if label == "" {
			label = v.URL
		}
		return template.HTML(fmt.Sprintf("<p class=\"video\">Video: <a href=\"%s\">%s</a></p>\n", html.EscapeString(v.URL), html.EscapeString(label)))
	case blocks.TableContent:
		return template.HTML(renderTable(v))
	case blocks.CodeContent:
		class := ""
		if v.Language != "" {
			class = fmt.Sprintf(" class=\"language-%s\"", html.EscapeString(v.Language))
		}
		return template.HTML(fmt.Sprintf("<pre><code%s>%s</code></pre>\n", class, html.EscapeString(v.Code)))
	case blocks.DividerContent:
		return template.HTML("<hr>\n")
	default:
		return ""
	}
}

func renderTable(t blocks.TableContent) string {
	if len(t.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<table>\n")
	for i, row := range t.Rows {
		cell := "td"
		if i == 0 && t.HasHeader {
			cell = "th"
		}
		b.WriteString("<tr>")
		for _, value := range row {
			fmt.Fprintf(&b, "<%s>%s</%s>", cell, html.EscapeString(value), cell)
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}

var droppedElements = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true, "embed": true, "form": true,
}

// sanitizeBody re-serializes rich text, dropping active elements, event
// handler attributes and javascript: URLs.
func sanitizeBody(fragment string) string {
	z := nethtml.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			return b.String()
		}
		tok := z.Token()
		switch tt {
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			if droppedElements[tok.Data] {
				if tt == nethtml.StartTagToken {
					skip++
				}
				continue
			}
			if skip > 0 {
				continue
			}
			tok.Attr = safeAttrs(tok.Attr)
			b.WriteString(tok.String())
		case nethtml.EndTagToken:
			if droppedElements[tok.Data] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 {
				b.WriteString(tok.String())
			}
		case nethtml.TextToken:
			if skip == 0 {
				b.WriteString(tok.String())
			}
		}
	}
}

func safeAttrs(attrs []nethtml.Attribute) []nethtml.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if (key == "href" || key == "src") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
			continue
		}
		out = append(out, a)
	}
	return out
}
