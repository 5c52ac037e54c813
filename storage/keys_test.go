package storage

import (
	"reflect"
	"testing"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"statistics__series.1__details", "statistics__series:1__details"},
		{"$$inc__field", "inc__field"},
		{"nul\x00char", "nulchar"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := SanitizeKey(tt.input); got != tt.want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFieldPath(t *testing.T) {
	got := FieldPath("statistics", "series.1", "details", "cost")
	want := "statistics__series:1__details__cost"
	if got != want {
		t.Errorf("FieldPath() = %q, want %q", got, want)
	}
}

func TestIncrementNested(t *testing.T) {
	update := NewUpdate()
	err := IncrementNested(update, "expectations", map[string]any{
		"details": map[string]any{
			"cost":   3,
			"weight": 1.5,
			"flag":   true,
			"off":    false,
			"empty":  nil,
			"metrics": map[string]any{
				"bfm": 0.25,
			},
		},
	})
	if err != nil {
		t.Fatalf("IncrementNested() error = %v", err)
	}

	want := map[string]float64{
		"expectations__details__cost":         3,
		"expectations__details__weight":       1.5,
		"expectations__details__flag":         1,
		"expectations__details__off":          0,
		"expectations__details__metrics__bfm": 0.25,
	}
	if !reflect.DeepEqual(update.Incs(), want) {
		t.Errorf("Incs() = %v, want %v", update.Incs(), want)
	}
}

func TestIncrementNestedRejectsStrings(t *testing.T) {
	update := NewUpdate()
	err := IncrementNested(update, "", map[string]any{"name": "not a number"})
	if err == nil {
		t.Fatal("IncrementNested() with a string leaf should fail")
	}
}

func TestUpdateAccumulatesIncrements(t *testing.T) {
	update := NewUpdate()
	update.Inc("targets_scheduled", 2)
	update.Inc("targets_scheduled", 3)

	if got := update.Incs()["targets_scheduled"]; got != 5 {
		t.Errorf("inc = %v, want 5", got)
	}
	if update.Empty() {
		t.Error("update with operators reported Empty()")
	}
	if !NewUpdate().Empty() {
		t.Error("fresh update not Empty()")
	}
}
