// Package schema reflects JSON Schemas from Go types for the HTTP API and
// for agent tool inputs.
package schema

import (
	"fmt"
	"sort"

	"code-query-agent/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

// GenerateSchema creates a self-contained JSON schema for the type T.
func GenerateSchema[T any]() *jsonschema.Schema {
	return reflectSchema[T](true)
}

// ToolInputSchema creates the input schema of a tool taking T. The
// generated schema does not allow additional properties.
func ToolInputSchema[T any]() anthropic.ToolInputSchemaParam {
	s := reflectSchema[T](false)
	param := anthropic.ToolInputSchemaParam{
		Properties: s.Properties,
	}
	if len(s.Required) > 0 {
		param.ExtraFields = map[string]interface{}{"required": s.Required}
	}
	return param
}

func reflectSchema[T any](allowAdditional bool) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: allowAdditional,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var documents = map[string]func() *jsonschema.Schema{
	"chunk":            GenerateSchema[[]domain.Chunk],
	"embedding-record": GenerateSchema[[]domain.EmbeddingRecord],
}

// Names lists the names accepted by Lookup.
func Names() []string {
	names := make([]string, 0, len(documents))
	for name := range documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the schema of the chunk input file ("chunk") or of the
// embeddings artifact ("embedding-record").
func Lookup(name string) (*jsonschema.Schema, error) {
	gen, ok := documents[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q, expected one of %v", name, Names())
	}
	return gen(), nil
}
