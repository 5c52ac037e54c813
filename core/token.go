package core

import "time"

// ExecutionToken tracks one in-flight crawler task. The scheduler
// counts open tokens to pace itself; a token disappears when its task
// succeeds and survives with failure information when it does not.
type ExecutionToken struct {
	ID      string    `json:"id,omitempty" bson:"_id,omitempty"`
	CrawlID string    `json:"crawl,omitempty" bson:"crawl,omitempty"`
	Stages  []Stage   `json:"stages,omitempty" bson:"stages,omitempty"`
	Created time.Time `json:"created,omitzero" bson:"created,omitempty"`

	// Schedulers count a token as open while neither finished nor
	// failed is set, so the zero values must stay out of the stored
	// document.
	Started  time.Time `json:"started,omitzero" bson:"started,omitempty"`
	Finished time.Time `json:"finished,omitzero" bson:"finished,omitempty"`
	Failed   time.Time `json:"failed,omitzero" bson:"failed,omitempty"`

	Retries    int      `json:"retries" bson:"retries"`
	RetryInfos []string `json:"retry_infos,omitempty" bson:"retry_infos,omitempty"`
	FailInfo   string   `json:"fail_info,omitempty" bson:"fail_info,omitempty"`

	// Progress mirrors the stages of the running task including
	// their progress, updated after every spider step.
	Progress []Stage `json:"progress,omitempty" bson:"progress,omitempty"`
}
