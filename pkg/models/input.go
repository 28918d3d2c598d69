package models

// Input length bounds, matching the submission contract.
const (
	MinInputLength = 10
	MaxInputLength = 2000
)

// StoryInput is the raw submission driving one generation run.
type StoryInput struct {
	Text           string `json:"text"            validate:"required,min=10,max=2000"`
	TargetLanguage string `json:"target_language" validate:"omitempty,bcp47_language_tag"`
	VoiceID        string `json:"voice_id,omitempty"`
	Style          string `json:"style,omitempty"`
}

// ArtifactRef points at the final composed video. It stays nil until the run
// reaches Delivery.
type ArtifactRef struct {
	Key             string  `json:"key"`
	Bucket          string  `json:"bucket,omitempty"`
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}
