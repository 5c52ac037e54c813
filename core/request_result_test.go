package core

import "testing"

func TestRequestResultRecords(t *testing.T) {
	single := &RequestResult{Result: map[string]any{"document_type": "detail", "title": "App"}}
	records := single.Records()
	if len(records) != 1 {
		t.Fatalf("Records() returned %d records, want 1", len(records))
	}
	if records[0]["title"] != "App" {
		t.Errorf("record = %v", records[0])
	}

	batch := &RequestResult{
		Batch: true,
		Result: map[string]any{
			"records": []any{
				map[string]any{"review_id": "a"},
				map[string]any{"review_id": "b"},
			},
		},
	}
	records = batch.Records()
	if len(records) != 2 {
		t.Fatalf("Records() returned %d records, want 2", len(records))
	}

	empty := &RequestResult{Batch: true, Result: map[string]any{}}
	if got := empty.Records(); len(got) != 0 {
		t.Errorf("Records() on empty batch = %v, want none", got)
	}
}

func TestRequestResultExhausted(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }

	tests := []struct {
		name   string
		result RequestResult
		want   bool
	}{
		{"no continuation", RequestResult{}, true},
		{"continuation present", RequestResult{SubsequentKwargs: Kwargs{"token": "next"}}, false},
		{"explicit exhausted wins", RequestResult{SubsequentKwargs: Kwargs{"token": "next"}, TargetExhausted: boolPtr(true)}, true},
		{"explicit false without continuation stays exhausted", RequestResult{TargetExhausted: boolPtr(false)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Exhausted(); got != tt.want {
				t.Errorf("Exhausted() = %v, want %v", got, tt.want)
			}
		})
	}
}
