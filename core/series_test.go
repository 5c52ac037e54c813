package core

import (
	"testing"
	"time"
)

func TestSeriesNameFromDescription(t *testing.T) {
	tests := []struct {
		description string
		want        string
	}{
		{"Google Play Store - Germany", "google_play_store_germany"},
		{"apps (weekly)", "apps_weekly_"},
		{"Already_Clean", "already_clean"},
	}
	for _, tt := range tests {
		if got := SeriesNameFromDescription(tt.description); got != tt.want {
			t.Errorf("SeriesNameFromDescription(%q) = %q, want %q", tt.description, got, tt.want)
		}
	}
}

func TestSeriesNewCrawl(t *testing.T) {
	series := &Series{
		ID:   "series-1",
		Name: "gps_de",
		Stages: []Stage{
			{Name: "details", Request: NewSignature("request.gps.detail", nil)},
		},
		Filter: `{"tags": "apps"}`,
	}

	now := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)
	crawl := series.NewCrawl("crawl-1", now)

	if crawl.Name != "gps_de_1" {
		t.Errorf("crawl name = %q, want gps_de_1", crawl.Name)
	}
	if crawl.Iteration != 1 || series.Iterations != 1 {
		t.Errorf("iteration = %d/%d, want 1/1", crawl.Iteration, series.Iterations)
	}
	if crawl.SeriesID != "series-1" {
		t.Errorf("series id = %q", crawl.SeriesID)
	}
	if crawl.Filter != series.Filter {
		t.Errorf("filter not frozen onto crawl: %q", crawl.Filter)
	}
	if len(series.Crawls) != 1 || series.Crawls[0] != "crawl-1" {
		t.Errorf("series crawls = %v", series.Crawls)
	}

	second := series.NewCrawl("crawl-2", now.Add(time.Hour))
	if second.Name != "gps_de_2" {
		t.Errorf("second crawl name = %q, want gps_de_2", second.Name)
	}

	// Stage configuration must be copied, not shared.
	crawl.Stages[0].Request.Kwargs = Kwargs{"lang": "de"}
	if series.Stages[0].Request.Kwargs != nil {
		t.Error("crawl stages share memory with series stages")
	}
}

func TestFilterDocument(t *testing.T) {
	series := &Series{}
	filter, err := series.FilterDocument()
	if err != nil {
		t.Fatalf("FilterDocument() on empty filter error = %v", err)
	}
	if len(filter) != 0 {
		t.Errorf("empty filter decoded to %v", filter)
	}

	if err := series.SetFilterDocument(map[string]any{"tags": "apps"}); err != nil {
		t.Fatalf("SetFilterDocument() error = %v", err)
	}
	filter, err = series.FilterDocument()
	if err != nil {
		t.Fatalf("FilterDocument() error = %v", err)
	}
	if filter["tags"] != "apps" {
		t.Errorf("filter = %v", filter)
	}
}
