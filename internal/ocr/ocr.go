// Package ocr extracts text from image-only PDFs by rasterizing each page and
// running optical character recognition over the images.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docextract/internal/config"
)

// Renderer rasterizes every page of a PDF into outDir and returns the image
// paths in page order.
type Renderer interface {
	Render(ctx context.Context, pdfPath string, dpi int, outDir string) ([]string, error)
}

// Recognizer returns the text found in a single page image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Extractor runs local OCR over all pages of a PDF.
type Extractor struct {
	renderer    Renderer
	recognizer  Recognizer
	dpi         int
	concurrency int
}

// NewExtractor creates an Extractor.
func NewExtractor(renderer Renderer, recognizer Recognizer, cfg config.OCRConfig) *Extractor {
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 300
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Extractor{
		renderer:    renderer,
		recognizer:  recognizer,
		dpi:         dpi,
		concurrency: concurrency,
	}
}

// ExtractText renders the PDF next to itself, recognizes every page and
// concatenates the results in page order. Documents with more than one page
// get a "--- Page N ---" header before each page. Any page failure fails the
// whole extraction.
func (e *Extractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	outDir, err := os.MkdirTemp(filepath.Dir(pdfPath), "pages-")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create page dir")
	}
	defer os.RemoveAll(outDir) //nolint:errcheck

	images, err := e.renderer.Render(ctx, pdfPath, e.dpi, outDir)
	if err != nil {
		return "", eris.Wrap(err, "ocr: render")
	}
	if len(images) == 0 {
		return "", eris.New("ocr: no pages rendered")
	}

	texts := make([]string, len(images))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, img := range images {
		g.Go(func() error {
			text, err := e.recognizer.Recognize(gCtx, img)
			if err != nil {
				return eris.Wrapf(err, "ocr: page %d", i+1)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	zap.L().Debug("ocr: pages recognized", zap.String("path", pdfPath), zap.Int("pages", len(images)))

	if len(texts) == 1 {
		return texts[0], nil
	}
	var sb strings.Builder
	for i, text := range texts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s", i+1, text)
	}
	return sb.String(), nil
}
