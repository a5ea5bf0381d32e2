package pipeline

import (
	"fmt"
	"maps"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docextract/internal/config"
	"github.com/sells-group/docextract/internal/model"
)

// Action is what the orchestrator does when a stage fails.
type Action string

const (
	// ActionFallback records the failure and advances to the next stage.
	ActionFallback Action = "fallback"
	// ActionFail aborts the request.
	ActionFail Action = "fail"
)

// Profile is one named extraction policy.
type Profile struct {
	Name string
	// DirectFirst runs the text-layer extractor before any OCR.
	DirectFirst bool
	// Clean applies cleaner.Clean to the chosen text; otherwise it is trimmed.
	Clean bool
	// Policy maps a stage to its failure action. Stages absent from the map
	// fall back, except local OCR which always fails.
	Policy map[model.Stage]Action
}

// OnFailure returns the action for a failed stage.
func (p Profile) OnFailure(stage model.Stage) Action {
	switch stage {
	case model.StageNormalize, model.StageDirect:
		return ActionFallback
	case model.StageLocalOCR:
		return ActionFail
	}
	if a, ok := p.Policy[stage]; ok {
		return a
	}
	return ActionFallback
}

// BuiltinProfiles returns the default profiles.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		"layered": {
			Name:        "layered",
			DirectFirst: true,
			Clean:       true,
			Policy: map[model.Stage]Action{
				model.StageCloudUpload: ActionFallback,
				model.StageCloudDetect: ActionFallback,
			},
		},
		"cloud": {
			Name:        "cloud",
			DirectFirst: false,
			Clean:       false,
			Policy: map[model.Stage]Action{
				model.StageCloudUpload: ActionFail,
				model.StageCloudDetect: ActionFallback,
			},
		},
	}
}

// LoadProfiles overlays the configured policy overrides on the built-in
// profiles.
func LoadProfiles(cfg config.PipelineConfig) (map[string]Profile, error) {
	profiles := BuiltinProfiles()

	for name, overrides := range cfg.Policies {
		prof, ok := profiles[name]
		if !ok {
			return nil, &UnknownProfileError{Name: name}
		}
		policy := maps.Clone(prof.Policy)
		for stage, action := range overrides {
			st := model.Stage(stage)
			if !slices.Contains(configurableStages, st) {
				return nil, eris.Errorf("pipeline: stage %q of profile %q is not configurable", stage, name)
			}
			a := Action(action)
			if a != ActionFail && a != ActionFallback {
				return nil, eris.Errorf("pipeline: invalid action %q for %s.%s", action, name, stage)
			}
			policy[st] = a
		}
		prof.Policy = policy
		profiles[name] = prof
	}

	if _, ok := profiles[cfg.Profile]; cfg.Profile != "" && !ok {
		return nil, &UnknownProfileError{Name: cfg.Profile}
	}
	return profiles, nil
}

var configurableStages = []model.Stage{model.StageCloudUpload, model.StageCloudDetect}

// UnknownProfileError is returned for a profile name with no definition.
type UnknownProfileError struct {
	Name string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown profile %q", e.Name)
}
