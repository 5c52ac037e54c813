// Package dispatch moves task invocations between the scheduler, the
// stage processor and the request adapters over NATS JetStream. Task
// names are dotted, the first segment selects the queue and with it
// the stream a worker consumes. Results of awaited calls travel back
// through a KV bucket keyed by invocation id.
package dispatch

import "strings"

// Task names of the engine's built-in handlers. Request adapters
// register additional "request.*" tasks.
const (
	TaskMultiStageCrawler  = "crawler.multi_stage"
	TaskSingleStageCrawler = "crawler.single_stage"
	TaskDataStorage        = "pipeline.data_storage"
	TaskTargetDiscovery    = "pipeline.target_discovery"
	TaskTargetMonitor      = "callback.target_monitor"
	TaskStaticTerminator   = "terminator.static"
	TaskOverlapTerminator  = "terminator.overlap"
	TaskBudgetTerminator   = "terminator.budget"
)

// Queues the engine provisions streams for.
var Queues = []string{"crawler", "pipeline", "callback", "terminator", "request"}

const (
	subjectPrefix = "tasks."
	streamPrefix  = "TRAWLER_"

	// ResultsBucket holds the results of awaited task calls.
	ResultsBucket = "TRAWLER_RESULTS"
)

// Queue returns the queue a task routes to, the first dotted segment
// of its name.
func Queue(task string) string {
	if i := strings.IndexByte(task, '.'); i > 0 {
		return task[:i]
	}
	return task
}

// Subject returns the NATS subject a task is published on.
func Subject(task string) string {
	return subjectPrefix + task
}

// StreamName returns the stream holding a queue's tasks.
func StreamName(queue string) string {
	return streamPrefix + strings.ToUpper(queue)
}

// StreamSubjects returns the subject filter of a queue's stream.
func StreamSubjects(queue string) []string {
	return []string{subjectPrefix + queue + ".>"}
}
