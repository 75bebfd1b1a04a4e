package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var cardSchemaDoc = map[string]any{
	"type":     "object",
	"required": []string{"question", "answer"},
	"properties": map[string]any{
		"question": map[string]any{"type": []string{"string", "number", "boolean"}},
		"answer":   map[string]any{"type": []string{"string", "number", "boolean"}},
	},
}

var (
	cardSchema     = mustCompileSchema("card.json", cardSchemaDoc)
	cardListSchema = mustCompileSchema("cards.json", map[string]any{
		"type":  "array",
		"items": cardSchemaDoc,
	})
)

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

func mustCompileSchema(name string, schemaMap map[string]any) *jsonschema.Schema {
	schema, err := compileSchema(name, schemaMap)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return schema
}

// decodeAgainst decodes blob with numbers preserved and validates it.
func decodeAgainst(schema *jsonschema.Schema, blob []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	return v, nil
}
