package stub

import "github.com/storyreel/storyreel/pkg/capability"

const schema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"characters": {"type": "number", "minimum": 1},
		"scenes": {"type": "number", "minimum": 1}
	}
}`

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "stub"
}

func (f *Factory) Schema() string {
	return schema
}

func (f *Factory) Create(config map[string]any) (capability.Adapter, error) {
	return NewAdapter(config)
}
