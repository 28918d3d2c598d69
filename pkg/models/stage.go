package models

// Stage identifies one externally fulfilled capability. Stages are the unit of
// caching and of adapter resolution; a phase maps to zero or more stages.
type Stage string

const (
	StageDetectLanguage    Stage = "detect-language"
	StageTranslate         Stage = "translate"
	StageExtractEntities   Stage = "extract-entities"
	StageGenerateCharacter Stage = "generate-character"
	StageGenerateKeyframe  Stage = "generate-keyframe"
	StageGenerateClip      Stage = "generate-clip"
	StageSynthesizeVoice   Stage = "synthesize-voice"
	StageComposeVideo      Stage = "compose-video"
	StageEnhanceVideo      Stage = "enhance-video"
)

// Stages lists every adapter-backed stage. Storyboard and Delivery are not
// listed: they are resolved inside the coordinator without an external call.
var Stages = []Stage{
	StageDetectLanguage,
	StageTranslate,
	StageExtractEntities,
	StageGenerateCharacter,
	StageGenerateKeyframe,
	StageGenerateClip,
	StageSynthesizeVoice,
	StageComposeVideo,
	StageEnhanceVideo,
}

// IsValidStage reports whether the stage is one of the known capabilities.
func IsValidStage(stage Stage) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}

	return false
}
