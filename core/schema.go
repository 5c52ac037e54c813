package core

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// TaskSignatureSchema validates one task signature document.
const TaskSignatureSchema = `{
	"type": "object",
	"properties": {
		"task": {"type": "string"},
		"args": {"type": "array"},
		"kwargs": {"type": "object"}
	}
}`

// StageSchema validates one stage configuration document.
const StageSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"request": ` + TaskSignatureSchema + `,
		"pipelines": {"type": "array", "items": ` + TaskSignatureSchema + `},
		"terminators": {"type": "array", "items": ` + TaskSignatureSchema + `},
		"callbacks": {"type": "array", "items": ` + TaskSignatureSchema + `}
	}
}`

// ValidateStageDocument checks a raw stage configuration against
// StageSchema. The returned slice lists one message per violation and
// is nil for a valid document.
func ValidateStageDocument(document []byte) ([]string, error) {
	schemaLoader := gojsonschema.NewBytesLoader([]byte(StageSchema))
	documentLoader := gojsonschema.NewBytesLoader(document)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("validate stage document: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}
	return violations, nil
}
