package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Chunk is a contiguous span of source code produced by the external
// chunker, together with its location and file-level context.
type Chunk struct {
	Text        string      `json:"text" jsonschema_description:"Source text of the chunk."`
	Type        string      `json:"type" jsonschema_description:"Kind of span, e.g. function, class or block."`
	StartLine   int         `json:"startLine" jsonschema_description:"First line of the span (1-based)."`
	EndLine     int         `json:"endLine" jsonschema_description:"Last line of the span, not before startLine."`
	FilePath    string      `json:"filePath,omitempty" jsonschema_description:"Path of the file the chunk was cut from."`
	FileContext FileContext `json:"fileContext,omitempty"`
}

// FileContext carries the imports and exports of the chunk's file.
type FileContext struct {
	Imports ContextList `json:"imports,omitempty"`
	Exports ContextList `json:"exports,omitempty"`
}

// ContextList holds a fileContext entry that the chunker may emit either as a
// single value or as an ordered list of values.
type ContextList []json.RawMessage

// UnmarshalJSON accepts a scalar, an object, an array or null.
func (l *ContextList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*l = nil
	case trimmed[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
	default:
		*l = ContextList{append(json.RawMessage(nil), trimmed...)}
	}
	return nil
}

// Flatten stringifies every element in order and joins them with a single
// space. Strings are used verbatim, anything else as compact JSON.
func (l ContextList) Flatten() string {
	parts := make([]string, 0, len(l))
	for _, raw := range l {
		parts = append(parts, stringifyContextValue(raw))
	}
	return strings.Join(parts, " ")
}

// JSONSchema describes the scalar-or-array shape accepted by UnmarshalJSON.
func (ContextList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Description: "A single value or an ordered list of values.",
		OneOf: []*jsonschema.Schema{
			{Type: "array"},
			{Type: "string"},
			{Type: "number"},
			{Type: "object"},
		},
	}
}

func stringifyContextValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// rawChunk mirrors Chunk with pointer fields so missing keys can be told
// apart from zero values.
type rawChunk struct {
	Text        *string      `json:"text"`
	Type        *string      `json:"type"`
	StartLine   *int         `json:"startLine"`
	EndLine     *int         `json:"endLine"`
	FilePath    string       `json:"filePath"`
	FileContext *FileContext `json:"fileContext"`
}

// DecodeChunk parses a single chunk entry and checks its required fields.
// The returned error wraps ErrInvalidChunkFormat.
func DecodeChunk(data []byte) (Chunk, error) {
	var raw rawChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrInvalidChunkFormat, err)
	}

	var missing []string
	if raw.Text == nil {
		missing = append(missing, "text")
	}
	if raw.Type == nil {
		missing = append(missing, "type")
	}
	if raw.StartLine == nil {
		missing = append(missing, "startLine")
	}
	if raw.EndLine == nil {
		missing = append(missing, "endLine")
	}
	if len(missing) > 0 {
		return Chunk{}, fmt.Errorf("%w: missing %s", ErrInvalidChunkFormat, strings.Join(missing, ", "))
	}
	if *raw.StartLine > *raw.EndLine {
		return Chunk{}, fmt.Errorf("%w: startLine %d is after endLine %d", ErrInvalidChunkFormat, *raw.StartLine, *raw.EndLine)
	}

	chunk := Chunk{
		Text:      *raw.Text,
		Type:      *raw.Type,
		StartLine: *raw.StartLine,
		EndLine:   *raw.EndLine,
		FilePath:  raw.FilePath,
	}
	if raw.FileContext != nil {
		chunk.FileContext = *raw.FileContext
	}
	return chunk, nil
}
