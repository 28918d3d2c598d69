package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/storyreel/storyreel/pkg/models"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText folds encoding and whitespace differences so that
// semantically identical inputs produce identical fingerprints: Unicode NFKC
// normalization, then whitespace runs collapsed to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}

// Fingerprint derives the stable cache key component for a stage input. The
// input map is normalized (string values via NormalizeText, keys sorted by
// canonical JSON encoding) and hashed together with the stage identifier.
func Fingerprint(stage models.Stage, input map[string]any) string {
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})

	canonical, err := json.Marshal(normalizeValue(input))
	if err == nil {
		h.Write(canonical)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// NewKey builds the cache key for a stage invocation.
func NewKey(stage models.Stage, input map[string]any) Key {
	return Key{Stage: stage, Fingerprint: Fingerprint(stage, input)}
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case string:
		return NormalizeText(value)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeValue(item)
		}

		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeValue(item)
		}

		return out
	default:
		return v
	}
}
