package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/pdftest"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	bin := filepath.Join(dir, "gs")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0o755))
	return bin
}

// fakeGS writes its arguments next to the binary and copies the input file
// to the -sOutputFile target.
const fakeGS = `echo "$@" > "$(dirname "$0")/args.txt"
out=""
for a in "$@"; do
  case "$a" in
    -sOutputFile=*) out="${a#-sOutputFile=}" ;;
  esac
  in="$a"
done
cp "$in" "$out"
`

func TestNew(t *testing.T) {
	n, err := New(config.NormalizeConfig{Engine: "ghostscript"})
	require.NoError(t, err)
	assert.IsType(t, &Ghostscript{}, n)

	n, err = New(config.NormalizeConfig{Engine: "pdfcpu"})
	require.NoError(t, err)
	assert.IsType(t, &Pdfcpu{}, n)

	n, err = New(config.NormalizeConfig{Engine: "none"})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, n)

	_, err = New(config.NormalizeConfig{Engine: "qpdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown engine "qpdf"`)
}

func TestGhostscriptDefaults(t *testing.T) {
	g := NewGhostscript("", "", 0)
	assert.Equal(t, "gs", g.binPath)
	assert.Equal(t, "/printer", g.settings)
}

func TestGhostscriptArgs(t *testing.T) {
	g := NewGhostscript("gs", "/printer", 0)
	assert.Equal(t, []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/printer",
		"-dQUIET",
		"-dNOPAUSE",
		"-dBATCH",
		"-sOutputFile=/tmp/out.pdf",
		"/tmp/in.pdf",
	}, g.args("/tmp/in.pdf", "/tmp/out.pdf"))
}

func TestGhostscriptNormalize(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, fakeGS)
	in := pdftest.Write(t, dir, "in.pdf", "hello")
	out := filepath.Join(dir, "out.pdf")

	g := NewGhostscript(bin, "/ebook", time.Minute)
	require.NoError(t, g.Normalize(context.Background(), in, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-1.4"))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "-dPDFSETTINGS=/ebook")
}

func TestGhostscriptExitCode(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "echo 'Error: /undefined in obj' >&2\nexit 3\n")

	g := NewGhostscript(bin, "", time.Minute)
	err := g.Normalize(context.Background(), filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf"))
	require.Error(t, err)

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "ghostscript", nerr.Engine)
	assert.Equal(t, 3, nerr.ExitCode)
	assert.Equal(t, "Error: /undefined in obj", nerr.Stderr)
	assert.Contains(t, err.Error(), "exit 3")
}

func TestGhostscriptMissingBinary(t *testing.T) {
	g := NewGhostscript("/nonexistent/gs", "", time.Minute)
	err := g.Normalize(context.Background(), "/tmp/in.pdf", "/tmp/out.pdf")

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, -1, nerr.ExitCode)
}

func TestGhostscriptNoOutput(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 0\n")

	g := NewGhostscript(bin, "", time.Minute)
	err := g.Normalize(context.Background(), filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output written")
}

func TestGhostscriptTimeout(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exec sleep 5\n")

	g := NewGhostscript(bin, "", 100*time.Millisecond)
	start := time.Now()
	err := g.Normalize(context.Background(), filepath.Join(dir, "in.pdf"), filepath.Join(dir, "out.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPdfcpuNormalize(t *testing.T) {
	dir := t.TempDir()
	in := pdftest.Write(t, dir, "in.pdf", "page one", "page two")
	out := filepath.Join(dir, "out.pdf")

	require.NoError(t, NewPdfcpu(time.Minute).Normalize(context.Background(), in, out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPdfcpuMalformed(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	require.NoError(t, os.WriteFile(in, []byte("not a pdf"), 0o644))

	err := NewPdfcpu(time.Minute).Normalize(context.Background(), in, filepath.Join(dir, "out.pdf"))
	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "pdfcpu", nerr.Engine)
}

func TestDisabled(t *testing.T) {
	err := Disabled{}.Normalize(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrDisabled)
}
