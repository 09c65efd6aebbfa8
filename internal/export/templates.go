package export

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"time"

	"github.com/hoonjeong/menualic/internal/tree"
)

//go:embed templates/*.html
var templateFS embed.FS

var manualTemplate = template.Must(template.New("manual.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"heading": sectionHeading,
}).ParseFS(templateFS, "templates/manual.html"))

// TemplateData holds data for manual template rendering
type TemplateData struct {
	Title       string
	Description string
	Author      string
	TeamName    string
	UpdatedAt   time.Time
	Sections    []TemplateSection
}

// TemplateSection is one section in tree order with its rendered blocks.
type TemplateSection struct {
	Title  string
	Depth  int
	Blocks []template.HTML
}

// sectionHeading maps section depth 1..3 to h2..h4.
func sectionHeading(depth int, title string) template.HTML {
	level := depth + 1
	if level < 2 {
		level = 2
	}
	if level > 4 {
		level = 4
	}
	return template.HTML(fmt.Sprintf("<h%d>%s</h%d>", level, html.EscapeString(title), level))
}

// NewTemplateData flattens the section tree, parents first.
func NewTemplateData(doc Document) TemplateData {
	data := TemplateData{
		Title:       doc.Title,
		Description: doc.Description,
		Author:      doc.Author,
		TeamName:    doc.TeamName,
		UpdatedAt:   doc.UpdatedAt,
	}
	tree.Walk(doc.Sections, func(n *tree.Node) {
		sec := TemplateSection{Title: n.Title, Depth: n.Depth}
		for _, b := range n.Blocks {
			if rendered := BlockHTML(b.Type, b.Content); rendered != "" {
				sec.Blocks = append(sec.Blocks, rendered)
			}
		}
		data.Sections = append(data.Sections, sec)
	})
	return data
}

// RenderManualHTML renders the manual template with provided data
func RenderManualHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := manualTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
