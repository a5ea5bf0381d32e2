// Package pipeline runs the text-extraction fallback chain for one document.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docextract/internal/cleaner"
	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/internal/monitoring"
)

// Normalizer rewrites a PDF into a simpler equivalent.
type Normalizer interface {
	Normalize(ctx context.Context, in, out string) error
}

// TextExtractor pulls text out of a PDF on disk.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// CloudExtractor uploads a PDF and runs managed text detection on it.
type CloudExtractor interface {
	Upload(ctx context.Context, localPath, filename string) (string, error)
	Detect(ctx context.Context, key string) (string, error)
}

// Structurer reformats text with a language model. It never fails.
type Structurer interface {
	Structure(ctx context.Context, text, apiKey string) string
	Provider() string
}

// Deps are the collaborators of a Pipeline. Cloud may be nil when no bucket
// is configured; Metrics may be nil.
type Deps struct {
	Normalizer Normalizer
	Direct     TextExtractor
	Cloud      CloudExtractor
	LocalOCR   TextExtractor
	Structurer Structurer
	Metrics    *monitoring.Metrics
}

// Options are per-request settings.
type Options struct {
	// Profile selects the extraction policy; empty uses the default.
	Profile string
	// APIKey overrides the model credential for this request.
	APIKey string
	// SkipStructure leaves StructuredText empty and makes no model call.
	SkipStructure bool
	// RequestID is attached to every log line.
	RequestID string
}

// FatalError aborts a request. It carries the stage that failed.
type FatalError struct {
	Stage model.Stage
	Err   error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Pipeline sequences normalize, direct, cloud and local OCR extraction, then
// cleans and structures the chosen text. It is safe for concurrent use.
type Pipeline struct {
	deps           Deps
	scratchDir     string
	defaultProfile string
	profiles       map[string]Profile
}

// New creates a Pipeline.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if deps.Normalizer == nil || deps.Direct == nil || deps.LocalOCR == nil || deps.Structurer == nil {
		return nil, eris.New("pipeline: normalizer, direct, local OCR and structurer are required")
	}
	profiles, err := LoadProfiles(cfg.Pipeline)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load profiles")
	}
	def := cfg.Pipeline.Profile
	if def == "" {
		def = "layered"
	}
	return &Pipeline{
		deps:           deps,
		scratchDir:     cfg.Scratch.Dir,
		defaultProfile: def,
		profiles:       profiles,
	}, nil
}

// Profiles returns the names of all known profiles, sorted.
func (p *Pipeline) Profiles() []string {
	names := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProfile returns the profile used when Options.Profile is empty.
func (p *Pipeline) DefaultProfile() string {
	return p.defaultProfile
}

// Process extracts and structures the text of doc. Only a failed stage whose
// policy is ActionFail (and local OCR, which is always last) returns an
// error; structuring failures become model.StructuringFailed.
func (p *Pipeline) Process(ctx context.Context, doc model.Document, opts Options) (*model.Result, error) {
	name := opts.Profile
	if name == "" {
		name = p.defaultProfile
	}
	profile, ok := p.profiles[name]
	if !ok {
		return nil, &UnknownProfileError{Name: name}
	}

	log := zap.L().With(
		zap.String("request_id", opts.RequestID),
		zap.String("filename", doc.Filename),
		zap.String("profile", profile.Name),
	)
	log.Info("pipeline: processing document", zap.Int("bytes", len(doc.Data)))

	scratch, err := os.MkdirTemp(p.scratchDir, "docextract-")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create scratch dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn("pipeline: failed to remove scratch dir", zap.String("dir", scratch), zap.Error(rmErr))
		}
	}()

	inPath := filepath.Join(scratch, doc.SafeName())
	if err := os.WriteFile(inPath, doc.Data, 0o600); err != nil {
		return nil, eris.Wrap(err, "pipeline: write upload")
	}

	result := &model.Result{}

	// Stage tracking helper: times fn, records the trace entry and metric.
	trackStage := func(stage model.Stage, fn func() model.AttemptResult) model.AttemptResult {
		start := time.Now()
		ar := fn()
		elapsed := time.Since(start)

		sr := model.StageResult{
			Stage:    stage,
			Outcome:  ar.Outcome,
			Duration: elapsed.Milliseconds(),
		}
		switch ar.Outcome {
		case model.OutcomeFailure:
			sr.Error = ar.Err.Error()
			log.Warn("pipeline: stage failed",
				zap.String("stage", string(stage)),
				zap.Int64("duration_ms", sr.Duration),
				zap.Error(ar.Err),
			)
		default:
			log.Info("pipeline: stage complete",
				zap.String("stage", string(stage)),
				zap.String("outcome", string(ar.Outcome)),
				zap.Int64("duration_ms", sr.Duration),
			)
		}

		result.Stages = append(result.Stages, sr)
		p.deps.Metrics.ObserveStage(stage, ar.Outcome, elapsed)
		return ar
	}

	skipStage := func(stage model.Stage, reason string) {
		log.Debug("pipeline: stage skipped", zap.String("stage", string(stage)), zap.String("reason", reason))
		result.Stages = append(result.Stages, model.StageResult{Stage: stage, Outcome: model.OutcomeSkipped})
		p.deps.Metrics.ObserveStage(stage, model.OutcomeSkipped, 0)
	}

	fatal := func(stage model.Stage, err error) error {
		log.Error("pipeline: request aborted", zap.String("stage", string(stage)), zap.Error(err))
		return &FatalError{Stage: stage, Err: err}
	}

	// ===== Normalize =====
	working := inPath
	normPath := filepath.Join(scratch, "normalized_"+doc.SafeName())
	norm := trackStage(model.StageNormalize, func() model.AttemptResult {
		if err := p.deps.Normalizer.Normalize(ctx, inPath, normPath); err != nil {
			return model.Failure(err)
		}
		return model.AttemptResult{Outcome: model.OutcomeSuccess}
	})
	if norm.OK() {
		working = normPath
	}

	var chosen model.AttemptResult
	accept := func(stage model.Stage, ar model.AttemptResult) {
		chosen = ar
		result.Source = stage
	}

	// ===== Direct text layer =====
	if profile.DirectFirst {
		ar := trackStage(model.StageDirect, func() model.AttemptResult {
			text, err := p.deps.Direct.ExtractText(ctx, working)
			if err != nil {
				return model.Failure(err)
			}
			return model.Success(text)
		})
		if ar.OK() {
			accept(model.StageDirect, ar)
		}
	} else {
		skipStage(model.StageDirect, "disabled by profile")
	}

	// ===== Cloud OCR =====
	if result.Source == "" {
		switch {
		case p.deps.Cloud == nil:
			skipStage(model.StageCloudUpload, "cloud not configured")
			skipStage(model.StageCloudDetect, "cloud not configured")
		default:
			var key string
			up := trackStage(model.StageCloudUpload, func() model.AttemptResult {
				k, err := p.deps.Cloud.Upload(ctx, working, doc.Filename)
				if err != nil {
					return model.Failure(err)
				}
				key = k
				return model.AttemptResult{Outcome: model.OutcomeSuccess}
			})
			if !up.OK() {
				if profile.OnFailure(model.StageCloudUpload) == ActionFail {
					return nil, fatal(model.StageCloudUpload, up.Err)
				}
				skipStage(model.StageCloudDetect, "upload failed")
				break
			}

			det := trackStage(model.StageCloudDetect, func() model.AttemptResult {
				text, err := p.deps.Cloud.Detect(ctx, key)
				if err != nil {
					return model.Failure(err)
				}
				return model.Success(text)
			})
			switch {
			case det.OK():
				accept(model.StageCloudDetect, det)
			case det.Outcome == model.OutcomeFailure && profile.OnFailure(model.StageCloudDetect) == ActionFail:
				return nil, fatal(model.StageCloudDetect, det.Err)
			}
		}
	}

	// ===== Local OCR =====
	if result.Source == "" {
		ar := trackStage(model.StageLocalOCR, func() model.AttemptResult {
			text, err := p.deps.LocalOCR.ExtractText(ctx, working)
			if err != nil {
				return model.Failure(err)
			}
			return model.Success(text)
		})
		if ar.Outcome == model.OutcomeFailure {
			return nil, fatal(model.StageLocalOCR, ar.Err)
		}
		accept(model.StageLocalOCR, ar)
	}
	p.deps.Metrics.ObserveSource(result.Source)

	// ===== Clean =====
	if profile.Clean {
		result.ExtractedText = cleaner.Clean(chosen.Text)
	} else {
		result.ExtractedText = strings.TrimSpace(chosen.Text)
	}

	// ===== Structure =====
	if !opts.SkipStructure {
		result.StructuredText = p.deps.Structurer.Structure(ctx, result.ExtractedText, opts.APIKey)
		if result.StructuredText == model.StructuringFailed {
			p.deps.Metrics.StructuringFailed(p.deps.Structurer.Provider())
		}
	}

	log.Info("pipeline: document processed",
		zap.String("source", string(result.Source)),
		zap.Int("extracted_chars", len(result.ExtractedText)),
	)
	return result, nil
}
