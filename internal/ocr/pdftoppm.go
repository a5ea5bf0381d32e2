package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PdfToPPM rasterizes PDFs using the poppler pdftoppm CLI tool.
type PdfToPPM struct {
	binPath string
}

// NewPdfToPPM creates a PdfToPPM renderer. If binPath is empty, "pdftoppm" is used.
func NewPdfToPPM(binPath string) *PdfToPPM {
	if binPath == "" {
		binPath = "pdftoppm"
	}
	return &PdfToPPM{binPath: binPath}
}

// Render writes one PNG per page to outDir. When pdfcpu can count the pages
// of the input, the number of rendered images must match.
func (p *PdfToPPM) Render(ctx context.Context, pdfPath string, dpi int, outDir string) ([]string, error) {
	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, p.binPath, "-png", "-r", strconv.Itoa(dpi), pdfPath, prefix)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, strings.TrimSpace(stderr.String()))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: list rendered pages")
	}
	sortPages(images)

	if n, err := api.PageCountFile(pdfPath); err != nil {
		zap.L().Debug("ocr: page count unavailable", zap.String("path", pdfPath), zap.Error(err))
	} else if n != len(images) {
		return nil, eris.Errorf("ocr: rendered %d images for %d pages", len(images), n)
	}
	return images, nil
}

// sortPages orders pdftoppm outputs (page-1.png, page-01.png, page-10.png)
// by their numeric page suffix.
func sortPages(paths []string) {
	slices.SortFunc(paths, func(a, b string) int {
		return pageNumber(a) - pageNumber(b)
	})
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndex(base, "-")
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0
	}
	return n
}
