package monitoring

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fakeLookPath(found ...string) func(string) (string, error) {
	return func(bin string) (string, error) {
		for _, f := range found {
			if f == bin {
				return "/usr/bin/" + bin, nil
			}
		}
		return "", exec.ErrNotFound
	}
}

func TestChecker_Check(t *testing.T) {
	m := NewMetrics()
	c := NewChecker(m, time.Minute,
		Dependency{Name: "ghostscript", Binary: "gs"},
		Dependency{Name: "pdftoppm", Binary: "pdftoppm"},
	)
	c.lookPath = fakeLookPath("gs")

	c.Check(zap.NewNop())

	assert.Equal(t, map[string]bool{"ghostscript": true, "pdftoppm": false}, c.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dependencyUp.WithLabelValues("ghostscript")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.dependencyUp.WithLabelValues("pdftoppm")))
}

func TestChecker_StatusIsCopy(t *testing.T) {
	c := NewChecker(nil, time.Minute, Dependency{Name: "gs", Binary: "gs"})
	c.lookPath = fakeLookPath("gs")
	c.Check(zap.NewNop())

	s := c.Status()
	s["gs"] = false
	assert.True(t, c.Status()["gs"])
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker(nil, 10*time.Millisecond, Dependency{Name: "gs", Binary: "gs"})
	calls := make(chan struct{}, 100)
	c.lookPath = func(string) (string, error) {
		calls <- struct{}{}
		return "", errors.New("missing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Initial check runs before the first tick.
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not check on start")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.False(t, c.Status()["gs"])
}

func TestChecker_DefaultInterval(t *testing.T) {
	c := NewChecker(nil, 0)
	assert.Equal(t, 5*time.Minute, c.interval)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Run(ctx)
}
