// Package tesseract recognizes page images with the Tesseract engine. It
// requires cgo and the tesseract/leptonica libraries.
package tesseract

import (
	"context"
	"strconv"

	"github.com/otiai10/gosseract/v2"
	"github.com/rotisserie/eris"
)

// Recognizer runs Tesseract on page images. A new client is created per call
// so concurrent pages never share engine state.
type Recognizer struct {
	languages     []string
	dpi           int
	clientFactory func() *gosseract.Client
}

// New creates a Recognizer. An empty language list defaults to English.
func New(languages []string, dpi int) *Recognizer {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Recognizer{languages: languages, dpi: dpi, clientFactory: gosseract.NewClient}
}

// Recognize returns the text Tesseract finds in imagePath.
func (r *Recognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.clientFactory()
	defer c.Close() //nolint:errcheck

	if err := c.SetLanguage(r.languages...); err != nil {
		return "", eris.Wrap(err, "tesseract: set languages")
	}
	if r.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(r.dpi)); err != nil {
			return "", eris.Wrap(err, "tesseract: set dpi")
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", eris.Wrapf(err, "tesseract: set image %s", imagePath)
	}

	text, err := c.Text()
	if err != nil {
		return "", eris.Wrapf(err, "tesseract: recognize %s", imagePath)
	}
	return text, nil
}
