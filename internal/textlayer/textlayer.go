// Package textlayer reads the embedded text layer of a PDF without OCR.
package textlayer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docextract/internal/config"
)

// Extractor extracts embedded text from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.DirectConfig) (Extractor, error) {
	switch cfg.Provider {
	case "native", "":
		return NewNative(), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	default:
		return nil, eris.Errorf("textlayer: unknown provider %q", cfg.Provider)
	}
}
