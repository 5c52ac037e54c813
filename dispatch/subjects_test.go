package dispatch

import "testing"

func TestQueue(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"crawler.multi_stage", "crawler"},
		{"pipeline.data_storage", "pipeline"},
		{"request.gps.detail", "request"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Queue(tt.task); got != tt.want {
			t.Errorf("Queue(%q) = %q, want %q", tt.task, got, tt.want)
		}
	}
}

func TestSubjectAndStream(t *testing.T) {
	if got := Subject("request.gps.detail"); got != "tasks.request.gps.detail" {
		t.Errorf("Subject() = %q", got)
	}
	if got := StreamName("crawler"); got != "TRAWLER_CRAWLER" {
		t.Errorf("StreamName() = %q", got)
	}
	subjects := StreamSubjects("request")
	if len(subjects) != 1 || subjects[0] != "tasks.request.>" {
		t.Errorf("StreamSubjects() = %v", subjects)
	}
}
