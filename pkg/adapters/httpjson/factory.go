package httpjson

import "github.com/storyreel/storyreel/pkg/capability"

const schema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"url": {"type": "string", "format": "uri"},
		"method": {"type": "string", "enum": ["GET", "POST", "PUT"]},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"timeout_seconds": {"type": "number", "minimum": 1}
	},
	"required": ["url"]
}`

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "httpjson"
}

func (f *Factory) Schema() string {
	return schema
}

func (f *Factory) Create(config map[string]any) (capability.Adapter, error) {
	return NewAdapter(config)
}
