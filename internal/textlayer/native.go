package textlayer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Native reads text layers in-process.
type Native struct{}

// NewNative creates a Native extractor.
func NewNative() *Native {
	return &Native{}
}

// ExtractText concatenates the plain text of every page in page order with no
// separators. Pages without a text layer contribute nothing. A PDF that cannot
// be parsed yields an empty string and a logged warning rather than an error,
// so callers fall through to OCR.
func (n *Native) ExtractText(ctx context.Context, pdfPath string) (text string, err error) {
	log := zap.L().With(zap.String("path", pdfPath))

	defer func() {
		// The parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			log.Warn("textlayer: parser panic", zap.String("panic", fmt.Sprint(r)))
			text, err = "", nil
		}
	}()

	f, r, openErr := pdf.Open(pdfPath)
	if openErr != nil {
		log.Warn("textlayer: unreadable pdf", zap.Error(openErr))
		return "", nil
	}
	defer f.Close() //nolint:errcheck

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			log.Debug("textlayer: page unreadable", zap.Int("page", i), zap.Error(pageErr))
			continue
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}
