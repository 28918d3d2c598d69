// Package models defines the core domain models for the story-to-video generation pipeline.
package models

// Phase identifies one ordered step of the generation pipeline.
type Phase string

const (
	PhaseLanguageProcessing  Phase = "language_processing"
	PhaseSceneAnalysis       Phase = "scene_analysis"
	PhaseStoryboard          Phase = "storyboard"
	PhaseCharacterGeneration Phase = "character_generation"
	PhaseKeyframeGeneration  Phase = "keyframe_generation"
	PhaseClipGeneration      Phase = "clip_generation"
	PhaseVoiceSynthesis      Phase = "voice_synthesis"
	PhaseComposition         Phase = "composition"
	PhasePostProcessing      Phase = "post_processing"
	PhaseDelivery            Phase = "delivery"
)

// PhaseOrder is the fixed execution order of the pipeline. A run advances
// through it strictly front to back; there is no branching.
var PhaseOrder = []Phase{
	PhaseLanguageProcessing,
	PhaseSceneAnalysis,
	PhaseStoryboard,
	PhaseCharacterGeneration,
	PhaseKeyframeGeneration,
	PhaseClipGeneration,
	PhaseVoiceSynthesis,
	PhaseComposition,
	PhasePostProcessing,
	PhaseDelivery,
}

// PhaseIndex returns the position of the phase in PhaseOrder, or -1 when the
// phase is unknown.
func PhaseIndex(phase Phase) int {
	for i, p := range PhaseOrder {
		if p == phase {
			return i
		}
	}

	return -1
}

// NextPhase returns the phase following the given one and false when the given
// phase is the last (or unknown).
func NextPhase(phase Phase) (Phase, bool) {
	idx := PhaseIndex(phase)
	if idx < 0 || idx >= len(PhaseOrder)-1 {
		return "", false
	}

	return PhaseOrder[idx+1], true
}

// IsValidPhase reports whether the given phase is part of the pipeline.
func IsValidPhase(phase Phase) bool {
	return PhaseIndex(phase) >= 0
}
