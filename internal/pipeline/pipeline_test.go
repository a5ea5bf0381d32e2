package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/internal/monitoring"
)

type fixture struct {
	scratch    string
	normalizer *mockNormalizer
	direct     *mockExtractor
	cloud      *mockCloud
	local      *mockExtractor
	structurer *mockStructurer
	metrics    *monitoring.Metrics
	cfg        *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		scratch:    t.TempDir(),
		normalizer: &mockNormalizer{},
		direct:     &mockExtractor{},
		cloud:      &mockCloud{},
		local:      &mockExtractor{},
		structurer: &mockStructurer{},
		metrics:    monitoring.NewMetrics(),
	}
	f.cfg = &config.Config{
		Scratch:  config.ScratchConfig{Dir: f.scratch},
		Pipeline: config.PipelineConfig{Profile: "layered"},
	}
	// Normalization fails by default; the original file is used.
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("gs: executable file not found in $PATH")).Maybe()
	return f
}

func (f *fixture) pipeline(t *testing.T, withCloud bool) *Pipeline {
	t.Helper()
	deps := Deps{
		Normalizer: f.normalizer,
		Direct:     f.direct,
		LocalOCR:   f.local,
		Structurer: f.structurer,
		Metrics:    f.metrics,
	}
	if withCloud {
		deps.Cloud = f.cloud
	}
	p, err := New(f.cfg, deps)
	require.NoError(t, err)
	return p
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dir should be removed")
}

func outcomes(r *model.Result) map[model.Stage]model.Outcome {
	out := make(map[model.Stage]model.Outcome)
	for _, s := range r.Stages {
		out[s.Stage] = s.Outcome
	}
	return out
}

var doc = model.Document{Filename: "scan report.pdf", Data: []byte("%PDF-1.4 fake")}

func TestProcess_DirectTextSkipsOCR(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("  Hello\n\n  World\t ", nil)
	f.structurer.On("Structure", mock.Anything, "Hello World", "").Return("# Hello World")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Hello World", res.ExtractedText)
	assert.Equal(t, "# Hello World", res.StructuredText)
	assert.Equal(t, model.StageDirect, res.Source)
	f.cloud.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	f.cloud.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
	f.local.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
	f.assertScratchEmpty(t)
}

func TestProcess_EmptyDirectAdvancesToCloud(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return(" \n ", nil)
	f.cloud.On("Upload", mock.Anything, mock.Anything, "scan report.pdf").Return("scan_report.pdf", nil)
	f.cloud.On("Detect", mock.Anything, "scan_report.pdf").Return("line one\nline two", nil)
	f.structurer.On("Structure", mock.Anything, "line one line two", "").Return("ok")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.StageCloudDetect, res.Source)
	assert.Equal(t, "line one line two", res.ExtractedText)
	assert.Equal(t, model.OutcomeEmpty, outcomes(res)[model.StageDirect])
	f.cloud.AssertExpectations(t)
	f.local.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
}

func TestProcess_NormalizedPathUsedWhenNormalizeSucceeds(t *testing.T) {
	f := newFixture(t)
	f.normalizer = &mockNormalizer{}
	f.normalizer.On("Normalize", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			require.NoError(t, copyNormalizer{}.Normalize(context.Background(), args.String(1), args.String(2)))
		}).Return(nil)
	f.direct.On("ExtractText", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(filepath.Base(p), "normalized_")
	})).Return("text", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, outcomes(res)[model.StageNormalize])
	f.direct.AssertExpectations(t)
}

func TestProcess_NormalizeFailureUsesOriginal(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.MatchedBy(func(p string) bool {
		return filepath.Base(p) == "scan report.pdf"
	})).Return("text", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailure, outcomes(res)[model.StageNormalize])
	assert.Contains(t, res.Stages[0].Error, "not found")
	f.direct.AssertExpectations(t)
}

func TestProcess_CloudProfileUploadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("AccessDenied"))

	_, err := f.pipeline(t, true).Process(context.Background(), doc, Options{Profile: "cloud"})
	require.Error(t, err)

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, model.StageCloudUpload, fe.Stage)
	assert.Equal(t, "AccessDenied", err.Error())
	f.direct.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
	f.local.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
	f.structurer.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything, mock.Anything)
	f.assertScratchEmpty(t)
}

func TestProcess_LayeredProfileUploadFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("", nil)
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("AccessDenied"))
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("ocr text", nil)
	f.structurer.On("Structure", mock.Anything, "ocr text", "").Return("ok")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.StageLocalOCR, res.Source)
	got := outcomes(res)
	assert.Equal(t, model.OutcomeFailure, got[model.StageCloudUpload])
	assert.Equal(t, model.OutcomeSkipped, got[model.StageCloudDetect])
	f.cloud.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
}

func TestProcess_DetectFailureFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	f.cloud.On("Detect", mock.Anything, "k").Return("", errors.New("ThrottlingException"))
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("  ocr   text  ", nil)
	f.structurer.On("Structure", mock.Anything, "ocr   text", "").Return("ok")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{Profile: "cloud"})
	require.NoError(t, err)

	assert.Equal(t, model.StageLocalOCR, res.Source)
	// The cloud profile trims but does not clean.
	assert.Equal(t, "ocr   text", res.ExtractedText)
	assert.Equal(t, model.OutcomeSkipped, outcomes(res)[model.StageDirect])
	f.direct.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
}

func TestProcess_EmptyCloudResultRunsLocal(t *testing.T) {
	f := newFixture(t)
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	f.cloud.On("Detect", mock.Anything, "k").Return("", nil)
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("ocr", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{Profile: "cloud"})
	require.NoError(t, err)
	assert.Equal(t, model.StageLocalOCR, res.Source)
	assert.Equal(t, model.OutcomeEmpty, outcomes(res)[model.StageCloudDetect])
}

func TestProcess_DetectPolicyFail(t *testing.T) {
	f := newFixture(t)
	f.cfg.Pipeline.Policies = map[string]map[string]string{"cloud": {"cloud_detect": "fail"}}
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	f.cloud.On("Detect", mock.Anything, "k").Return("", errors.New("UnsupportedDocument"))

	_, err := f.pipeline(t, true).Process(context.Background(), doc, Options{Profile: "cloud"})
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, model.StageCloudDetect, fe.Stage)
	f.local.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
}

func TestProcess_CloudNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("", nil)
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("ocr", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	got := outcomes(res)
	assert.Equal(t, model.OutcomeSkipped, got[model.StageCloudUpload])
	assert.Equal(t, model.OutcomeSkipped, got[model.StageCloudDetect])
	assert.Equal(t, model.StageLocalOCR, res.Source)
}

func TestProcess_LocalOCRFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("", nil)
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("", errors.New("tesseract: page 2 failed"))

	_, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, model.StageLocalOCR, fe.Stage)
	f.structurer.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything, mock.Anything)
	f.assertScratchEmpty(t)
}

func TestProcess_DirectErrorIsRecoverable(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("", errors.New("pdftotext: exit status 1"))
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("ocr", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailure, outcomes(res)[model.StageDirect])
	assert.Equal(t, model.StageLocalOCR, res.Source)
}

func TestProcess_StructuringFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("invoice", nil)
	f.structurer.On("Structure", mock.Anything, "invoice", "sk-caller").Return(model.StructuringFailed)

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{APIKey: "sk-caller"})
	require.NoError(t, err)
	assert.Equal(t, "invoice", res.ExtractedText)
	assert.Equal(t, model.StructuringFailed, res.StructuredText)
	f.structurer.AssertExpectations(t)
}

func TestProcess_SkipStructure(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("invoice", nil)

	res, err := f.pipeline(t, false).Process(context.Background(), doc, Options{SkipStructure: true})
	require.NoError(t, err)
	assert.Empty(t, res.StructuredText)
	f.structurer.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_UnknownProfile(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t, false).Process(context.Background(), doc, Options{Profile: "fast"})

	var upe *UnknownProfileError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, `unknown profile "fast"`, err.Error())
	f.normalizer.AssertNotCalled(t, "Normalize", mock.Anything, mock.Anything, mock.Anything)
	f.assertScratchEmpty(t)
}

func TestProcess_StageOrderAndTrace(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("", nil)
	f.cloud.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("k", nil)
	f.cloud.On("Detect", mock.Anything, "k").Return("", errors.New("boom"))
	f.local.On("ExtractText", mock.Anything, mock.Anything).Return("ocr", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return("ok")

	res, err := f.pipeline(t, true).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	var order []model.Stage
	for _, s := range res.Stages {
		order = append(order, s.Stage)
	}
	assert.Equal(t, model.AllStages(), order)
	f.direct.AssertNumberOfCalls(t, "ExtractText", 1)
	f.cloud.AssertNumberOfCalls(t, "Upload", 1)
	f.cloud.AssertNumberOfCalls(t, "Detect", 1)
	f.local.AssertNumberOfCalls(t, "ExtractText", 1)
}

func TestProcess_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	f.direct.On("ExtractText", mock.Anything, mock.Anything).Return("text", nil)
	f.structurer.On("Structure", mock.Anything, mock.Anything, mock.Anything).Return(model.StructuringFailed)

	_, err := f.pipeline(t, false).Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	want := `
# HELP docextract_structuring_failures_total Model calls replaced by the fallback message.
# TYPE docextract_structuring_failures_total counter
docextract_structuring_failures_total{provider="openai"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(want), "docextract_structuring_failures_total"))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(&config.Config{}, Deps{})
	require.Error(t, err)
}

func TestNew_UnknownDefaultProfile(t *testing.T) {
	f := newFixture(t)
	f.cfg.Pipeline.Profile = "fast"
	_, err := New(f.cfg, Deps{Normalizer: f.normalizer, Direct: f.direct, LocalOCR: f.local, Structurer: f.structurer})
	require.Error(t, err)
}

func TestPipeline_Profiles(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, false)
	assert.Equal(t, []string{"cloud", "layered"}, p.Profiles())
	assert.Equal(t, "layered", p.DefaultProfile())
}
