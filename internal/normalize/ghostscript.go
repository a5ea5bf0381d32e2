package normalize

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Ghostscript rewrites PDFs with the gs pdfwrite device.
type Ghostscript struct {
	binPath  string
	settings string
	timeout  time.Duration
}

// NewGhostscript creates a Ghostscript normalizer. Empty binPath and settings
// default to "gs" and "/printer".
func NewGhostscript(binPath, settings string, timeout time.Duration) *Ghostscript {
	if binPath == "" {
		binPath = "gs"
	}
	if settings == "" {
		settings = "/printer"
	}
	return &Ghostscript{binPath: binPath, settings: settings, timeout: timeout}
}

func (g *Ghostscript) args(in, out string) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + g.settings,
		"-dQUIET",
		"-dNOPAUSE",
		"-dBATCH",
		"-sOutputFile=" + out,
		in,
	}
}

// Normalize runs gs on in and writes the result to out.
func (g *Ghostscript) Normalize(ctx context.Context, in, out string) error {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.binPath, g.args(in, out)...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		nerr := &Error{
			Engine:   "ghostscript",
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String() + stdout.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			nerr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			nerr.Err = eris.Wrap(ctx.Err(), "gs interrupted")
		}
		return nerr
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return &Error{Engine: "ghostscript", ExitCode: 0, Err: eris.New("no output written")}
	}
	return nil
}
