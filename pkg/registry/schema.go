package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// validateConfig checks an adapter configuration against its factory's JSON
// schema. An empty schema accepts anything.
func validateConfig(schema string, config map[string]any) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return errors.New(strings.Join(messages, "; "))
	}

	return nil
}
