package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEpochTimeMarshal(t *testing.T) {
	ts := Epoch(time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "1715941800" {
		t.Errorf("Marshal() = %s, want 1715941800", data)
	}

	var zero EpochTime
	data, err = json.Marshal(zero)
	if err != nil {
		t.Fatalf("Marshal() zero error = %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Marshal() zero = %s, want null", data)
	}
}

func TestEpochTimeUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"integer seconds", "1715941800", time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)},
		{"fractional seconds", "1715941800.75", time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)},
		{"rfc3339 string", `"2024-05-17T10:30:00Z"`, time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)},
		{"null", "null", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts EpochTime
			if err := json.Unmarshal([]byte(tt.input), &ts); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if !ts.Time.Equal(tt.want) {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, ts.Time, tt.want)
			}
		})
	}
}

func TestEpochTimeRoundTrip(t *testing.T) {
	original := EpochNow()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded EpochTime
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Time.Equal(original.Time) {
		t.Errorf("round trip changed the time: %v != %v", decoded.Time, original.Time)
	}
}
