package main

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/sells-group/docextract/internal/cloudocr"
	"github.com/sells-group/docextract/internal/monitoring"
	"github.com/sells-group/docextract/internal/normalize"
	"github.com/sells-group/docextract/internal/ocr"
	"github.com/sells-group/docextract/internal/ocr/tesseract"
	"github.com/sells-group/docextract/internal/pipeline"
	"github.com/sells-group/docextract/internal/structure"
	"github.com/sells-group/docextract/internal/textlayer"
)

// pipelineEnv holds the process-wide clients and the pipeline built from
// them. Everything here is read-only once initPipeline returns.
type pipelineEnv struct {
	Pipeline *pipeline.Pipeline
	Metrics  *monitoring.Metrics
	Checker  *monitoring.Checker

	closers []func() error
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	for _, fn := range pe.closers {
		if err := fn(); err != nil {
			zap.L().Warn("close client", zap.Error(err))
		}
	}
}

// initPipeline validates the config for mode and builds every extraction
// stage. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{Metrics: monitoring.NewMetrics()}

	norm, err := normalize.New(cfg.Normalize)
	if err != nil {
		return nil, eris.Wrap(err, "init normalizer")
	}
	direct, err := textlayer.NewExtractor(cfg.Direct)
	if err != nil {
		return nil, eris.Wrap(err, "init direct extractor")
	}
	local := ocr.NewExtractor(
		ocr.NewPdfToPPM(cfg.OCR.PdfToPPMPath),
		tesseract.New(cfg.OCR.Languages, cfg.OCR.DPI),
		cfg.OCR,
	)

	deps := pipeline.Deps{
		Normalizer: norm,
		Direct:     direct,
		LocalOCR:   local,
		Metrics:    env.Metrics,
	}

	if cfg.Cloud.Enabled() {
		cloud, err := initCloud(ctx, env)
		if err != nil {
			env.Close()
			return nil, err
		}
		deps.Cloud = cloud
	} else {
		zap.L().Info("cloud OCR disabled: no bucket configured")
	}

	st, err := structure.New(ctx, cfg.Structure)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init structurer")
	}
	env.closers = append(env.closers, st.Close)
	deps.Structurer = st

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p
	env.Checker = monitoring.NewChecker(env.Metrics, 0, dependencies()...)

	zap.L().Info("pipeline initialized",
		zap.String("profile", p.DefaultProfile()),
		zap.String("normalize", cfg.Normalize.Engine),
		zap.String("direct", cfg.Direct.Provider),
		zap.Bool("cloud", deps.Cloud != nil),
		zap.String("structure", st.Provider()),
	)
	return env, nil
}

// initCloud builds the GCS and Vision clients behind the cloud stage.
func initCloud(ctx context.Context, env *pipelineEnv) (*cloudocr.Extractor, error) {
	var opts []option.ClientOption
	if cfg.Cloud.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Cloud.CredentialsFile))
	}

	gcs, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "init storage client")
	}
	env.closers = append(env.closers, gcs.Close)

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "init vision client")
	}

	return cloudocr.NewExtractor(
		cloudocr.NewGCSStore(gcs),
		cloudocr.NewVisionDetector(svc, cfg.Cloud.RatePerSec, cfg.Cloud.Burst),
		cfg.Cloud,
		cloudocr.WithStateChange(env.Metrics.SetCircuitState),
	), nil
}

// dependencies lists the external executables the configured stages use.
func dependencies() []monitoring.Dependency {
	var deps []monitoring.Dependency
	if cfg.Normalize.Engine == "ghostscript" {
		deps = append(deps, monitoring.Dependency{Name: "ghostscript", Binary: orDefault(cfg.Normalize.GhostscriptPath, "gs")})
	}
	if cfg.Direct.Provider == "pdftotext" {
		deps = append(deps, monitoring.Dependency{Name: "pdftotext", Binary: orDefault(cfg.Direct.PdfToTextPath, "pdftotext")})
	}
	deps = append(deps, monitoring.Dependency{Name: "pdftoppm", Binary: orDefault(cfg.OCR.PdfToPPMPath, "pdftoppm")})
	return deps
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
