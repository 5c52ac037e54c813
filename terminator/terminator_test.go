package terminator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/trawler/core"
	"github.com/c360studio/trawler/dispatch"
)

func stageWithStorage(statistics, metrics map[string]any) core.Stage {
	return core.Stage{
		Name: "reviews",
		Progress: core.StageResult{
			PipelineResults: map[string]core.PipelineResult{
				dispatch.TaskDataStorage: {Statistics: statistics, Metrics: metrics},
			},
		},
	}
}

func apply(t *testing.T, task string, kwargs core.Kwargs) int {
	t.Helper()
	registry := dispatch.NewRegistry()
	Register(registry)
	value, err := registry.Apply(context.Background(), task, kwargs)
	require.NoError(t, err)
	result, ok := value.(int)
	require.True(t, ok)
	return result
}

func TestStaticTerminator(t *testing.T) {
	cases := []struct {
		name      string
		processed int
		limit     any
		want      int
	}{
		{"below limit", 3, 5, 0},
		{"at limit", 5, 5, 1},
		{"above limit", 6, 5, 1},
		{"below default", 999, nil, 0},
		{"at default", 1000, nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage := stageWithStorage(map[string]any{"processed_documents": tc.processed}, nil)
			kwargs := core.Kwargs{"stage": stage}
			if tc.limit != nil {
				kwargs["limit"] = tc.limit
			}
			assert.Equal(t, tc.want, apply(t, dispatch.TaskStaticTerminator, kwargs))
		})
	}
}

func TestOverlapTerminator(t *testing.T) {
	cases := []struct {
		name      string
		processed int
		fresh     int
		overlap   any
		want      int
	}{
		{"all fresh", 10, 10, 3, 0},
		{"overlap below threshold", 10, 8, 3, 0},
		{"overlap at threshold", 10, 7, 3, 1},
		{"default threshold", 150, 40, nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage := stageWithStorage(map[string]any{
				"processed_documents": tc.processed,
				"new_documents":       tc.fresh,
			}, nil)
			kwargs := core.Kwargs{"stage": stage}
			if tc.overlap != nil {
				kwargs["overlap"] = tc.overlap
			}
			assert.Equal(t, tc.want, apply(t, dispatch.TaskOverlapTerminator, kwargs))
		})
	}
}

func TestBudgetTerminator(t *testing.T) {
	cases := []struct {
		name      string
		processed int
		bfm       float64
		kwargs    core.Kwargs
		want      int
	}{
		// acquired = 100 + 2*10 = 120, spent = 110.
		{"within budget", 110, 2, nil, 0},
		// acquired = 120, spent = 121.
		{"overspent", 121, 2, nil, 1},
		// acquired = 10 + 1*2 = 12, spent = 13.
		{"configured budget", 13, 1, core.Kwargs{"budget": 10, "budget_inc": 2}, 1},
		// Fresh documents keep earning budget: acquired = 100 + 50*10.
		{"fresh stream keeps running", 550, 50, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stage := stageWithStorage(
				map[string]any{"processed_documents": tc.processed},
				map[string]any{"bfm": tc.bfm},
			)
			kwargs := core.Kwargs{"stage": stage}
			for key, value := range tc.kwargs {
				kwargs[key] = value
			}
			assert.Equal(t, tc.want, apply(t, dispatch.TaskBudgetTerminator, kwargs))
		})
	}
}

func TestBudgetTerminatorCustomModel(t *testing.T) {
	stage := stageWithStorage(
		map[string]any{"processed_documents": 200},
		map[string]any{"bfm": 50, "cfm": 1},
	)
	// With cfm: acquired = 100 + 1*10 = 110 < 200.
	got := apply(t, dispatch.TaskBudgetTerminator, core.Kwargs{"stage": stage, "model": "cfm"})
	assert.Equal(t, 1, got)
}

func TestTerminatorsRequireStorageResults(t *testing.T) {
	registry := dispatch.NewRegistry()
	Register(registry)
	stage := core.Stage{Name: "reviews"}

	for _, task := range []string{
		dispatch.TaskStaticTerminator,
		dispatch.TaskOverlapTerminator,
		dispatch.TaskBudgetTerminator,
	} {
		_, err := registry.Apply(context.Background(), task, core.Kwargs{"stage": stage})
		require.Error(t, err, task)
		assert.ErrorContains(t, err, dispatch.TaskDataStorage)
	}
}

func TestBudgetTerminatorMissingModelMetric(t *testing.T) {
	registry := dispatch.NewRegistry()
	Register(registry)
	stage := stageWithStorage(map[string]any{"processed_documents": 1}, nil)

	_, err := registry.Apply(context.Background(), dispatch.TaskBudgetTerminator, core.Kwargs{"stage": stage})
	require.Error(t, err)
	assert.ErrorContains(t, err, "bfm")
}

// A stage configured as in the combination scenario: a static limit of
// five and an overlap of three both fire on the same step and both are
// recorded before the stage exits.
func TestTerminatorCombination(t *testing.T) {
	stage := stageWithStorage(map[string]any{
		"processed_documents": 6,
		"new_documents":       3,
	}, nil)

	static := apply(t, dispatch.TaskStaticTerminator, core.Kwargs{"stage": stage, "limit": 5})
	overlap := apply(t, dispatch.TaskOverlapTerminator, core.Kwargs{"stage": stage, "overlap": 3})
	assert.Equal(t, 1, static)
	assert.Equal(t, 1, overlap)
}
