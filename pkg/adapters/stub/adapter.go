// Package stub provides a deterministic canned-output adapter for local
// development and demos: every stage answers immediately with a plausible
// payload derived from the request, no external provider needed.
package stub

import (
	"context"
	"fmt"

	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/models"
)

type Adapter struct {
	id         string
	characters int
	scenes     int
}

func NewAdapter(config map[string]any) (*Adapter, error) {
	id, _ := config["id"].(string)
	if id == "" {
		id = "stub"
	}

	adapter := &Adapter{id: id, characters: 2, scenes: 2}

	if n, ok := config["characters"].(float64); ok && n > 0 {
		adapter.characters = int(n)
	}

	if n, ok := config["scenes"].(float64); ok && n > 0 {
		adapter.scenes = int(n)
	}

	return adapter, nil
}

func (a *Adapter) ID() string {
	return a.id
}

func (a *Adapter) Invoke(_ context.Context, req capability.Request) (*capability.Response, error) {
	switch req.Stage {
	case models.StageDetectLanguage:
		return respond(map[string]any{"language": "en", "confidence": 0.98})
	case models.StageTranslate:
		text, _ := req.Input["text"].(string)

		return respond(map[string]any{"text": text, "method": a.id})
	case models.StageExtractEntities:
		characters := make([]any, 0, a.characters)
		for i := range a.characters {
			characters = append(characters, map[string]any{"name": fmt.Sprintf("character_%d", i+1)})
		}

		scenes := make([]any, 0, a.scenes)
		for i := range a.scenes {
			scenes = append(scenes, map[string]any{"description": fmt.Sprintf("scene_%d", i+1)})
		}

		return respond(map[string]any{"characters": characters, "scenes": scenes})
	case models.StageGenerateCharacter:
		name, _ := req.Input["name"].(string)

		return respond(map[string]any{"character_ref": "stub://characters/" + name})
	case models.StageGenerateKeyframe:
		return respond(map[string]any{"keyframe_ref": "stub://keyframes/" + req.SubTaskID})
	case models.StageGenerateClip:
		return respond(map[string]any{
			"clip_ref":         "stub://clips/" + req.SubTaskID,
			"duration_seconds": 4.0,
		})
	case models.StageSynthesizeVoice:
		return respond(map[string]any{"voice_ref": "stub://voice/" + req.RunID})
	case models.StageComposeVideo:
		return respond(map[string]any{
			"video_ref":        "stub://video/" + req.RunID,
			"format":           "mp4",
			"duration_seconds": 8.0,
		})
	case models.StageEnhanceVideo:
		ref, _ := req.Input["video_ref"].(string)

		return respond(map[string]any{
			"video_ref": ref,
			"format":    "mp4",
			"enhanced":  true,
		})
	default:
		return nil, capability.NewPermanent(a.id, fmt.Errorf("unsupported stage '%s'", req.Stage))
	}
}

func respond(output map[string]any) (*capability.Response, error) {
	return &capability.Response{Output: output}, nil
}
