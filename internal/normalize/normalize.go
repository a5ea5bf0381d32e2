// Package normalize rewrites an uploaded PDF into a simpler equivalent that
// downstream extractors handle more reliably.
package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docextract/internal/config"
)

// ErrDisabled is returned by the "none" engine.
var ErrDisabled = eris.New("normalize: disabled")

// Normalizer writes a simplified copy of the PDF at in to out.
type Normalizer interface {
	Normalize(ctx context.Context, in, out string) error
}

// Error describes a failed normalization. ExitCode is -1 when the engine did
// not run to completion as an external process.
type Error struct {
	Engine   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("normalize: %s failed", e.Engine)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Normalizer for the configured engine.
func New(cfg config.NormalizeConfig) (Normalizer, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Engine {
	case "ghostscript", "":
		return NewGhostscript(cfg.GhostscriptPath, cfg.PDFSettings, timeout), nil
	case "pdfcpu":
		return NewPdfcpu(timeout), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, eris.Errorf("normalize: unknown engine %q", cfg.Engine)
	}
}

// Disabled never normalizes.
type Disabled struct{}

// Normalize always returns ErrDisabled.
func (Disabled) Normalize(context.Context, string, string) error {
	return ErrDisabled
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
