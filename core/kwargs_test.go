package core

import "testing"

func TestKwargsCloneIsDeep(t *testing.T) {
	original := Kwargs{
		"app_id": "com.example.app",
		"nested": map[string]any{"count": 200},
		"list":   []any{"a", "b"},
	}

	clone := original.Clone()
	clone["app_id"] = "com.other.app"
	clone["nested"].(map[string]any)["count"] = 1
	clone["list"].([]any)[0] = "z"

	if original["app_id"] != "com.example.app" {
		t.Error("clone shares top level values")
	}
	if original["nested"].(map[string]any)["count"] != 200 {
		t.Error("clone shares nested maps")
	}
	if original["list"].([]any)[0] != "a" {
		t.Error("clone shares slices")
	}
}

func TestKwargsMerge(t *testing.T) {
	base := Kwargs{"lang": "de", "count": 100}
	base.Merge(Kwargs{"count": 200, "token": "next"})

	if base["count"] != 200 {
		t.Errorf("count = %v, merged values must win", base["count"])
	}
	if base["lang"] != "de" {
		t.Errorf("lang = %v, unrelated keys must survive", base["lang"])
	}
	if base["token"] != "next" {
		t.Errorf("token = %v", base["token"])
	}
}

func TestKwargsAccessors(t *testing.T) {
	kwargs := Kwargs{"lang": "en", "count": float64(200), "batch": true}

	if v, ok := kwargs.String("lang"); !ok || v != "en" {
		t.Errorf("String(lang) = %q, %v", v, ok)
	}
	if v, ok := kwargs.Int("count"); !ok || v != 200 {
		t.Errorf("Int(count) = %d, %v, float64 json numbers must convert", v, ok)
	}
	if v, ok := kwargs.Bool("batch"); !ok || !v {
		t.Errorf("Bool(batch) = %v, %v", v, ok)
	}
	if _, ok := kwargs.String("missing"); ok {
		t.Error("String(missing) reported ok")
	}
}
