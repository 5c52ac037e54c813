package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageJSONRoundTrip(t *testing.T) {
	stage := Stage{
		Name:    "details",
		Request: NewSignature("request.gps.detail", Kwargs{"lang": "en"}),
		Pipelines: []TaskSignature{
			NewSignature("pipeline.data_storage", Kwargs{
				"factory_task": map[string]any{"task": "factory.gps.document", "kwargs": map[string]any{}},
			}),
		},
		Terminators: []TaskSignature{NewSignature("terminator.static", Kwargs{"n": 1})},
		Callbacks:   []TaskSignature{NewSignature("callback.target_monitor", nil)},
	}

	data, err := json.Marshal(stage)
	require.NoError(t, err)

	decoded, err := StageFromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "details", decoded.Name)
	assert.Equal(t, "request.gps.detail", decoded.Request.Task)
	require.Len(t, decoded.Pipelines, 1)
	assert.Equal(t, "pipeline.data_storage", decoded.Pipelines[0].Task)
	assert.Contains(t, decoded.Pipelines[0].Kwargs, "factory_task")
}

func TestStageFromJSONRequiresRequest(t *testing.T) {
	_, err := StageFromJSON([]byte(`{"name": "details"}`))
	require.Error(t, err)

	_, err = StageFromJSON([]byte(`{"request": {"task": "request.gps.detail"}}`))
	require.Error(t, err)
}

func TestStageCloneIsIndependent(t *testing.T) {
	stage := Stage{
		Name:    "details",
		Request: NewSignature("request.gps.detail", Kwargs{"lang": "en"}),
		Target:  SlimTarget{Kwargs: Kwargs{"app_id": "com.example.app"}},
	}

	clone := stage.Clone()
	clone.Request.Kwargs["lang"] = "de"
	clone.Target.Kwargs["app_id"] = "com.other.app"
	clone.Progress.Cost = 42
	clone.Progress.Terminate("terminator.static")

	assert.Equal(t, "en", stage.Request.Kwargs["lang"])
	assert.Equal(t, "com.example.app", stage.Target.Kwargs["app_id"])
	assert.Equal(t, 0, stage.Progress.Cost)
	assert.False(t, stage.Progress.Terminated())
}

func TestStageResultTerminated(t *testing.T) {
	var result StageResult
	assert.False(t, result.Terminated())

	result.Terminate(TerminatorKeyTargetExhausted)
	assert.True(t, result.Terminated())
	assert.True(t, result.TerminatedBy[TerminatorKeyTargetExhausted])
}

func TestSignatureWithKwargsKeepsConfiguration(t *testing.T) {
	configured := NewSignature("pipeline.data_storage", Kwargs{
		"factory_task": map[string]any{"task": "factory.gps.document"},
	})

	injected := configured.WithKwargs(Kwargs{"crawl_id": "crawl-7"})

	assert.Equal(t, "crawl-7", injected.Kwargs["crawl_id"])
	assert.Contains(t, injected.Kwargs, "factory_task")
	assert.NotContains(t, configured.Kwargs, "crawl_id", "the configured signature must stay untouched")
}
