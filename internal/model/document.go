package model

import (
	"path/filepath"
	"strings"
)

// Document is an uploaded PDF as received from the client. It is written once
// to request scratch storage and never mutated.
type Document struct {
	Filename string
	Data     []byte
}

// SafeName returns the filename reduced to its base name, suitable for use
// inside a scratch directory. Empty or dot names fall back to "upload.pdf".
func (d Document) SafeName() string {
	name := filepath.Base(strings.ReplaceAll(d.Filename, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "upload.pdf"
	}
	return name
}

// StructuringFailed is returned in place of structured text when the
// language-model call fails for any reason.
const StructuringFailed = "Error calling GPT API."

// Result is the outcome of processing one document.
type Result struct {
	ExtractedText  string        `json:"extracted_text" yaml:"extracted_text"`
	StructuredText string        `json:"structured_text" yaml:"structured_text"`
	Source         Stage         `json:"source" yaml:"source"`
	Stages         []StageResult `json:"stages" yaml:"stages"`
}
