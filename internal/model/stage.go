package model

import "strings"

// Stage names one step of the extraction pipeline.
type Stage string

const (
	StageNormalize   Stage = "normalize"
	StageDirect      Stage = "direct"
	StageCloudUpload Stage = "cloud_upload"
	StageCloudDetect Stage = "cloud_detect"
	StageLocalOCR    Stage = "local_ocr"
)

// AllStages returns the stages in execution order.
func AllStages() []Stage {
	return []Stage{
		StageNormalize,
		StageDirect,
		StageCloudUpload,
		StageCloudDetect,
		StageLocalOCR,
	}
}

// Outcome classifies a single extraction attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// AttemptResult is the result of one extraction stage. Exactly one of Text
// (success) or Err (failure) is meaningful; an empty result carries neither.
type AttemptResult struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Success returns a successful attempt. Text that is blank after trimming
// is classified as empty.
func Success(text string) AttemptResult {
	if strings.TrimSpace(text) == "" {
		return Empty()
	}
	return AttemptResult{Outcome: OutcomeSuccess, Text: text}
}

// Empty returns an attempt that ran but produced no text.
func Empty() AttemptResult {
	return AttemptResult{Outcome: OutcomeEmpty}
}

// Failure returns an attempt that failed with err.
func Failure(err error) AttemptResult {
	return AttemptResult{Outcome: OutcomeFailure, Err: err}
}

// OK reports whether the attempt produced usable text.
func (a AttemptResult) OK() bool {
	return a.Outcome == OutcomeSuccess
}

// StageResult is the trace record for one executed (or skipped) stage.
type StageResult struct {
	Stage    Stage   `json:"stage" yaml:"stage"`
	Outcome  Outcome `json:"outcome" yaml:"outcome"`
	Duration int64   `json:"duration_ms" yaml:"duration_ms"`
	Error    string  `json:"error,omitempty" yaml:"error,omitempty"`
}
