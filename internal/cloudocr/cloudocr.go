// Package cloudocr uploads documents to an object store and runs cloud text
// detection over them.
package cloudocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/resilience"
)

// BlockType classifies a detected text block.
type BlockType string

const (
	BlockPage BlockType = "PAGE"
	BlockLine BlockType = "LINE"
	BlockWord BlockType = "WORD"
)

// Block is one unit of detected text, in the order the service returned it.
type Block struct {
	Type BlockType
	Text string
	Page int
}

// ObjectStore stores uploaded documents.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
}

// Detector runs document text detection on a stored object.
type Detector interface {
	Detect(ctx context.Context, bucket, key string) ([]Block, error)
}

// UploadError is returned when a document could not be stored.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("cloudocr: upload gs://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// DetectError is returned when text detection failed.
type DetectError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("cloudocr: detect gs://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *DetectError) Unwrap() error { return e.Err }

// ObjectKey derives the storage key for an uploaded filename: directory
// components are dropped and spaces become underscores.
func ObjectKey(prefix, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "upload.pdf"
	}
	return prefix + strings.ReplaceAll(name, " ", "_")
}

// LinesText joins the text of LINE blocks with newlines, preserving order.
func LinesText(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		if b.Type == BlockLine {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// Extractor wraps an ObjectStore and Detector with timeouts, retries and
// per-service circuit breakers.
type Extractor struct {
	store    ObjectStore
	detector Detector

	bucket        string
	prefix        string
	uploadTimeout time.Duration
	detectTimeout time.Duration

	retry         resilience.RetryConfig
	uploadBreaker *resilience.CircuitBreaker
	detectBreaker *resilience.CircuitBreaker
	onStateChange func(service string, to resilience.CircuitState)
	newID         func() string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStateChange registers fn to observe circuit breaker transitions.
func WithStateChange(fn func(service string, to resilience.CircuitState)) Option {
	return func(e *Extractor) {
		e.onStateChange = fn
	}
}

// NewExtractor creates an Extractor for the configured bucket.
func NewExtractor(store ObjectStore, detector Detector, cfg config.CloudConfig, opts ...Option) *Extractor {
	e := &Extractor{
		store:         store,
		detector:      detector,
		bucket:        cfg.Bucket,
		prefix:        cfg.KeyPrefix,
		uploadTimeout: time.Duration(cfg.UploadTimeoutSecs) * time.Second,
		detectTimeout: time.Duration(cfg.DetectTimeoutSecs) * time.Second,
		retry:         resilience.RetryConfig{MaxAttempts: cfg.MaxAttempts},
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.uploadBreaker = e.newBreaker("storage", cfg)
	e.detectBreaker = e.newBreaker("vision", cfg)
	return e
}

func (e *Extractor) newBreaker(name string, cfg config.CloudConfig) *resilience.CircuitBreaker {
	bc := resilience.CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     time.Duration(cfg.BreakerResetSecs) * time.Second,
	}
	if fn := e.onStateChange; fn != nil {
		bc.OnStateChange = func(_, to resilience.CircuitState) { fn(name, to) }
	}
	return resilience.NewCircuitBreaker(bc)
}

// Upload stores the file at localPath under <prefix><upload id>/<filename>
// and returns the key. Every call gets its own id, so uploads of the same
// filename never share an object. Failures are *UploadError.
func (e *Extractor) Upload(ctx context.Context, localPath, filename string) (string, error) {
	key := ObjectKey(e.prefix+e.newID()+"/", filename)

	ctx, cancel := withTimeout(ctx, e.uploadTimeout)
	defer cancel()

	retry := e.retry
	retry.Operation = "storage.put"
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return e.uploadBreaker.Execute(ctx, func(ctx context.Context) error {
			f, err := os.Open(localPath)
			if err != nil {
				return eris.Wrap(err, "open upload")
			}
			defer f.Close() //nolint:errcheck
			return e.store.Put(ctx, e.bucket, key, f)
		})
	})
	if err != nil {
		return "", &UploadError{Bucket: e.bucket, Key: key, Err: err}
	}

	zap.L().Debug("cloudocr: uploaded", zap.String("bucket", e.bucket), zap.String("key", key))
	return key, nil
}

// Detect runs text detection on key and returns its LINE blocks joined with
// newlines. An empty string with a nil error means nothing was detected.
// The object is deleted afterwards whatever the outcome. Failures are
// *DetectError.
func (e *Extractor) Detect(ctx context.Context, key string) (string, error) {
	defer e.remove(ctx, key)

	ctx, cancel := withTimeout(ctx, e.detectTimeout)
	defer cancel()

	retry := e.retry
	retry.Operation = "vision.annotate"
	blocks, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]Block, error) {
		return resilience.ExecuteVal(ctx, e.detectBreaker, func(ctx context.Context) ([]Block, error) {
			return e.detector.Detect(ctx, e.bucket, key)
		})
	})
	if err != nil {
		return "", &DetectError{Bucket: e.bucket, Key: key, Err: err}
	}

	zap.L().Debug("cloudocr: detected", zap.String("key", key), zap.Int("blocks", len(blocks)))
	return LinesText(blocks), nil
}

// remove deletes an uploaded object. It runs even when ctx is already
// cancelled; failures are only logged.
func (e *Extractor) remove(ctx context.Context, key string) {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), e.uploadTimeout)
	defer cancel()

	if err := e.store.Delete(ctx, e.bucket, key); err != nil {
		zap.L().Warn("cloudocr: failed to delete upload",
			zap.String("bucket", e.bucket),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
