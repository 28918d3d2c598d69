// Package cache provides the content-addressed result cache that memoizes
// expensive stage outputs keyed by (stage, fingerprint of normalized input).
package cache

import (
	"context"
	"time"

	"github.com/storyreel/storyreel/pkg/models"
)

// Key addresses one cached stage result.
type Key struct {
	Stage       models.Stage
	Fingerprint string
}

func (k Key) String() string {
	return string(k.Stage) + ":" + k.Fingerprint
}

// Cache is the read-through/write-through store consulted by the stage
// executor. Implementations are internally synchronized; callers never hold
// external locks. Writes are last-writer-wins: payloads for identical
// fingerprints are expected to be equivalent.
type Cache interface {
	Get(ctx context.Context, key Key) (map[string]any, bool, error)
	Put(ctx context.Context, key Key, payload map[string]any, ttl time.Duration) error
	Invalidate(ctx context.Context, key Key) error
	Close() error
}

// Per-stage TTLs. Cheap, fast-moving stages expire quickly; generation stages
// are expensive enough to keep for a day.
var stageTTLs = map[models.Stage]time.Duration{
	models.StageDetectLanguage:    30 * time.Minute,
	models.StageTranslate:         time.Hour,
	models.StageExtractEntities:   time.Hour,
	models.StageGenerateCharacter: 24 * time.Hour,
	models.StageGenerateKeyframe:  24 * time.Hour,
	models.StageGenerateClip:      24 * time.Hour,
	models.StageSynthesizeVoice:   24 * time.Hour,
	models.StageComposeVideo:      24 * time.Hour,
	models.StageEnhanceVideo:      24 * time.Hour,
}

const defaultTTL = time.Hour

// TTLFor returns the configured time-to-live for a stage's cached results.
func TTLFor(stage models.Stage) time.Duration {
	if ttl, ok := stageTTLs[stage]; ok {
		return ttl
	}

	return defaultTTL
}
