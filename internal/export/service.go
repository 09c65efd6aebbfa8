package export

import (
	"context"
	"fmt"
	"time"
)

// Service renders manual exports. PDF printing needs a Chrome or Chromium
// binary on PATH.
type Service struct {
	pdfTimeout time.Duration
	printPDF   func(ctx context.Context, html string) ([]byte, error)
}

func NewService() *Service {
	return &Service{pdfTimeout: 30 * time.Second, printPDF: printPDF}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	html, err := RenderManualHTML(NewTemplateData(doc))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		ctx, cancel := context.WithTimeout(ctx, s.pdfTimeout)
		defer cancel()
		data, err := s.printPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(doc.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
