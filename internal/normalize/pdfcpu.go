package normalize

import (
	"context"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
)

// Pdfcpu rewrites PDFs with the pdfcpu optimizer.
type Pdfcpu struct {
	timeout time.Duration
}

// NewPdfcpu creates a pdfcpu normalizer.
func NewPdfcpu(timeout time.Duration) *Pdfcpu {
	return &Pdfcpu{timeout: timeout}
}

// Normalize optimizes in and writes the result to out. pdfcpu cannot be
// interrupted, so on timeout the call returns while the optimizer finishes
// in the background. Use the ghostscript engine when CPU and memory per
// request must be bounded.
func (p *Pdfcpu) Normalize(ctx context.Context, in, out string) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		cfg := model.NewDefaultConfiguration()
		cfg.ValidationMode = model.ValidationRelaxed
		done <- api.OptimizeFile(in, out, cfg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &Error{Engine: "pdfcpu", ExitCode: -1, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &Error{Engine: "pdfcpu", ExitCode: -1, Err: eris.Wrap(ctx.Err(), "optimize interrupted")}
	}
}
