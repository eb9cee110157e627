package tooldispatch

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a Go struct type into a JSON Schema document,
// grounded on functiontool/schema.go's generateSchema in the pack: required
// fields come from `jsonschema:"required"` tags, everything is inlined
// (no $ref) for a single self-contained schema per built-in tool.
func GenerateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	raw, err := json.Marshal(schema)
	if err != nil {
		panic("tooldispatch: failed to marshal reflected schema: " + err.Error())
	}
	return raw
}
