// Package export renders a manual to standalone HTML and prints PDFs from it.
package export

import (
	"errors"
	"time"

	"github.com/hoonjeong/menualic/internal/tree"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat defaults to HTML when value is empty.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Document is a manual with its nested section tree.
type Document struct {
	Title       string
	Description string
	Author      string
	TeamName    string
	UpdatedAt   time.Time
	Sections    []*tree.Node
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
