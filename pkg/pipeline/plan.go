package pipeline

import (
	"fmt"

	"github.com/storyreel/storyreel/pkg/models"
)

// defaultTargetLanguage is assumed when the submission does not name one.
const defaultTargetLanguage = "en"

// planPhase computes the full subtask set the current phase wants, derived
// only from persisted run state. Calling it again on the same state yields the
// same set, so a replayed Advance never dispatches duplicate work. The
// returned set may grow between calls within one phase: language processing
// adds the translate subtask only after detection settles.
//
// Local phases (storyboard, delivery) return an empty plan; the coordinator
// resolves them without external calls.
func planPhase(run *models.GenerationRun) ([]*models.SubTask, error) {
	switch run.CurrentPhase {
	case models.PhaseLanguageProcessing:
		return planLanguageProcessing(run), nil
	case models.PhaseSceneAnalysis:
		return singleSubTask(run, models.StageExtractEntities, map[string]any{
			"text": resolvedText(run),
		}), nil
	case models.PhaseStoryboard, models.PhaseDelivery:
		return nil, nil
	case models.PhaseCharacterGeneration:
		return planCharacterGeneration(run)
	case models.PhaseKeyframeGeneration:
		return planKeyframeGeneration(run)
	case models.PhaseClipGeneration:
		return planClipGeneration(run)
	case models.PhaseVoiceSynthesis:
		return singleSubTask(run, models.StageSynthesizeVoice, map[string]any{
			"text":     resolvedText(run),
			"language": targetLanguage(run),
			"voice_id": run.Input.VoiceID,
		}), nil
	case models.PhaseComposition:
		return planComposition(run)
	case models.PhasePostProcessing:
		return planPostProcessing(run)
	default:
		return nil, fmt.Errorf("unknown phase '%s'", run.CurrentPhase)
	}
}

// planLanguageProcessing always wants detection; it adds translation only once
// detection has settled on a language other than the target.
func planLanguageProcessing(run *models.GenerationRun) []*models.SubTask {
	plan := []*models.SubTask{
		newSubTask(run, models.StageDetectLanguage, 0, map[string]any{
			"text": run.Input.Text,
		}),
	}

	detected, ok := detectedLanguage(run)
	if !ok || detected == targetLanguage(run) {
		return plan
	}

	plan = append(plan, newSubTask(run, models.StageTranslate, 1, map[string]any{
		"text":            run.Input.Text,
		"source_language": detected,
		"target_language": targetLanguage(run),
	}))

	return plan
}

func planCharacterGeneration(run *models.GenerationRun) ([]*models.SubTask, error) {
	characters, err := recordedList(run, models.PhaseSceneAnalysis, "characters")
	if err != nil {
		return nil, err
	}

	plan := make([]*models.SubTask, 0, len(characters))

	for i, character := range characters {
		name, _ := character["name"].(string)
		description, _ := character["description"].(string)

		plan = append(plan, newSubTask(run, models.StageGenerateCharacter, i, map[string]any{
			"name":        name,
			"description": description,
			"style":       run.Input.Style,
		}))
	}

	return plan, nil
}

func planKeyframeGeneration(run *models.GenerationRun) ([]*models.SubTask, error) {
	shots, err := recordedList(run, models.PhaseStoryboard, "shots")
	if err != nil {
		return nil, err
	}

	characterRefs := characterRefList(run)

	plan := make([]*models.SubTask, 0, len(shots))

	for i, shot := range shots {
		description, _ := shot["description"].(string)

		plan = append(plan, newSubTask(run, models.StageGenerateKeyframe, i, map[string]any{
			"shot_index":     i,
			"description":    description,
			"style":          run.Input.Style,
			"character_refs": characterRefs,
		}))
	}

	return plan, nil
}

func planClipGeneration(run *models.GenerationRun) ([]*models.SubTask, error) {
	shots, err := recordedList(run, models.PhaseStoryboard, "shots")
	if err != nil {
		return nil, err
	}

	keyframes, err := recordedList(run, models.PhaseKeyframeGeneration, "keyframes")
	if err != nil {
		return nil, err
	}

	plan := make([]*models.SubTask, 0, len(shots))

	for i, shot := range shots {
		description, _ := shot["description"].(string)

		input := map[string]any{
			"shot_index":  i,
			"description": description,
		}

		if i < len(keyframes) {
			input["keyframe_ref"] = keyframes[i]["keyframe_ref"]
		}

		plan = append(plan, newSubTask(run, models.StageGenerateClip, i, input))
	}

	return plan, nil
}

func planComposition(run *models.GenerationRun) ([]*models.SubTask, error) {
	clips, err := recordedList(run, models.PhaseClipGeneration, "clips")
	if err != nil {
		return nil, err
	}

	clipRefs := make([]any, 0, len(clips))
	for _, clip := range clips {
		clipRefs = append(clipRefs, clip["clip_ref"])
	}

	voice := run.PhaseOutput(models.PhaseVoiceSynthesis)

	input := map[string]any{"clips": clipRefs}
	if voice != nil {
		input["voice_ref"] = voice["voice_ref"]
	}

	return singleSubTask(run, models.StageComposeVideo, input), nil
}

func planPostProcessing(run *models.GenerationRun) ([]*models.SubTask, error) {
	composed := run.PhaseOutput(models.PhaseComposition)
	if composed == nil {
		return nil, fmt.Errorf("composition output missing for run '%s'", run.ID)
	}

	return singleSubTask(run, models.StageEnhanceVideo, map[string]any{
		"video_ref": composed["video_ref"],
		"format":    composed["format"],
	}), nil
}

// aggregatePhase folds the settled subtask payloads of the current phase into
// the phase output recorded in the run history. Outputs are ordered by subtask
// index regardless of settlement order.
func aggregatePhase(run *models.GenerationRun) map[string]any {
	switch run.CurrentPhase {
	case models.PhaseLanguageProcessing:
		return aggregateLanguageProcessing(run)
	case models.PhaseCharacterGeneration:
		return aggregateRefs(run, "characters", func(st *models.SubTask) map[string]any {
			name, _ := st.Input["name"].(string)

			return map[string]any{
				"name":          name,
				"character_ref": st.Result.Payload["character_ref"],
			}
		})
	case models.PhaseKeyframeGeneration:
		return aggregateRefs(run, "keyframes", func(st *models.SubTask) map[string]any {
			return map[string]any{
				"shot_index":   st.Index,
				"keyframe_ref": st.Result.Payload["keyframe_ref"],
			}
		})
	case models.PhaseClipGeneration:
		return aggregateRefs(run, "clips", func(st *models.SubTask) map[string]any {
			return map[string]any{
				"shot_index":       st.Index,
				"clip_ref":         st.Result.Payload["clip_ref"],
				"duration_seconds": st.Result.Payload["duration_seconds"],
			}
		})
	default:
		// Single-subtask phases pass the payload through unchanged.
		for _, st := range run.SubTasks {
			if st.Status == models.SubTaskStatusOk && st.Result != nil {
				return st.Result.Payload
			}
		}

		return map[string]any{}
	}
}

// aggregateLanguageProcessing resolves the working text. When the detected
// language already matches the target, translation is skipped and the output
// says so.
func aggregateLanguageProcessing(run *models.GenerationRun) map[string]any {
	detected, _ := detectedLanguage(run)

	output := map[string]any{
		"text":       run.Input.Text,
		"language":   detected,
		"translated": false,
	}

	for _, st := range run.SubTasks {
		if st.Stage != models.StageTranslate || st.Status != models.SubTaskStatusOk || st.Result == nil {
			continue
		}

		if text, ok := st.Result.Payload["text"].(string); ok && text != "" {
			output["text"] = text
		}

		output["translated"] = true

		return output
	}

	if detected == targetLanguage(run) {
		output["skipped"] = true
	}

	return output
}

func aggregateRefs(run *models.GenerationRun, key string, build func(*models.SubTask) map[string]any) map[string]any {
	entries := make([]any, len(run.SubTasks))

	for _, st := range run.SubTasks {
		if st.Status != models.SubTaskStatusOk || st.Result == nil {
			continue
		}

		if st.Index >= 0 && st.Index < len(entries) {
			entries[st.Index] = build(st)
		}
	}

	return map[string]any{key: entries}
}

// buildStoryboard derives the shot list from the scene analysis output. One
// scene maps to one shot, in narrative order.
func buildStoryboard(run *models.GenerationRun) (map[string]any, error) {
	scenes, err := recordedList(run, models.PhaseSceneAnalysis, "scenes")
	if err != nil {
		return nil, err
	}

	shots := make([]any, 0, len(scenes))

	for i, scene := range scenes {
		description, _ := scene["description"].(string)

		shot := map[string]any{
			"index":       i,
			"description": description,
		}

		if characters, ok := scene["characters"]; ok {
			shot["characters"] = characters
		}

		shots = append(shots, shot)
	}

	return map[string]any{"shots": shots}, nil
}

// buildDeliveryManifest merges the enhanced video reference with the media
// attributes reported at composition time.
func buildDeliveryManifest(run *models.GenerationRun) (map[string]any, error) {
	enhanced := run.PhaseOutput(models.PhasePostProcessing)
	if enhanced == nil {
		return nil, fmt.Errorf("post-processing output missing for run '%s'", run.ID)
	}

	manifest := map[string]any{}
	for k, v := range enhanced {
		manifest[k] = v
	}

	if composed := run.PhaseOutput(models.PhaseComposition); composed != nil {
		if _, ok := manifest["duration_seconds"]; !ok {
			manifest["duration_seconds"] = composed["duration_seconds"]
		}
	}

	return manifest, nil
}

func newSubTask(run *models.GenerationRun, stage models.Stage, index int, input map[string]any) *models.SubTask {
	return &models.SubTask{
		ID:     models.SubTaskID(run.ID, run.CurrentPhase, index),
		RunID:  run.ID,
		Phase:  run.CurrentPhase,
		Stage:  stage,
		Index:  index,
		Input:  input,
		Status: models.SubTaskStatusPending,
	}
}

func singleSubTask(run *models.GenerationRun, stage models.Stage, input map[string]any) []*models.SubTask {
	return []*models.SubTask{newSubTask(run, stage, 0, input)}
}

func targetLanguage(run *models.GenerationRun) string {
	if run.Input.TargetLanguage != "" {
		return run.Input.TargetLanguage
	}

	return defaultTargetLanguage
}

// detectedLanguage reads the settled detection result from the current
// subtasks, or from the recorded phase output once the phase has completed.
func detectedLanguage(run *models.GenerationRun) (string, bool) {
	if output := run.PhaseOutput(models.PhaseLanguageProcessing); output != nil {
		language, ok := output["language"].(string)

		return language, ok
	}

	for _, st := range run.SubTasks {
		if st.Stage != models.StageDetectLanguage || st.Status != models.SubTaskStatusOk || st.Result == nil {
			continue
		}

		language, ok := st.Result.Payload["language"].(string)

		return language, ok
	}

	return "", false
}

// resolvedText is the working text after language processing.
func resolvedText(run *models.GenerationRun) string {
	if output := run.PhaseOutput(models.PhaseLanguageProcessing); output != nil {
		if text, ok := output["text"].(string); ok && text != "" {
			return text
		}
	}

	return run.Input.Text
}

// characterRefList collects the generated character references in generation
// order. A story without named characters yields an empty list.
func characterRefList(run *models.GenerationRun) []any {
	output := run.PhaseOutput(models.PhaseCharacterGeneration)
	if output == nil {
		return nil
	}

	raw, _ := output["characters"].([]any)

	refs := make([]any, 0, len(raw))

	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		if ref, ok := entry["character_ref"]; ok && ref != nil {
			refs = append(refs, ref)
		}
	}

	return refs
}

// recordedList pulls a list of objects out of a completed phase's output,
// tolerating the two shapes JSON round-tripping produces.
func recordedList(run *models.GenerationRun, phase models.Phase, key string) ([]map[string]any, error) {
	output := run.PhaseOutput(phase)
	if output == nil {
		return nil, fmt.Errorf("phase '%s' output missing for run '%s'", phase, run.ID)
	}

	raw, ok := output[key].([]any)
	if !ok {
		return nil, fmt.Errorf("phase '%s' output has no '%s' list", phase, key)
	}

	list := make([]map[string]any, 0, len(raw))

	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			list = append(list, m)
		}
	}

	return list, nil
}

// costFor weights queue admission by how expensive the stage is to run.
// Video-producing stages hold two capacity units.
func costFor(stage models.Stage) int {
	switch stage {
	case models.StageGenerateClip, models.StageComposeVideo, models.StageEnhanceVideo:
		return 2
	default:
		return 1
	}
}
