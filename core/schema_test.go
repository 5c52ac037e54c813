package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStageDocument(t *testing.T) {
	valid := []byte(`{
		"name": "details",
		"request": {"task": "request.gps.detail", "kwargs": {"lang": "en"}},
		"pipelines": [{"task": "pipeline.data_storage", "kwargs": {}}],
		"terminators": [{"task": "terminator.static", "kwargs": {"n": 1}}]
	}`)

	violations, err := ValidateStageDocument(valid)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestValidateStageDocumentViolations(t *testing.T) {
	invalid := []byte(`{
		"name": 42,
		"request": {"task": ["not", "a", "string"]},
		"pipelines": {"task": "should be an array"}
	}`)

	violations, err := ValidateStageDocument(invalid)
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
}
