package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/trawler/core"
)

// resultTTL bounds how long awaited results linger in the bucket.
const resultTTL = time.Hour

// Dispatcher submits tasks to their queues.
type Dispatcher interface {
	// Submit publishes a task invocation and returns its id without
	// waiting for execution.
	Submit(ctx context.Context, task string, kwargs core.Kwargs) (string, error)
	// Call publishes a task invocation and blocks until its result
	// arrives or the context ends.
	Call(ctx context.Context, task string, kwargs core.Kwargs) (json.RawMessage, error)
}

// NATSDispatcher implements Dispatcher on JetStream.
type NATSDispatcher struct {
	js      jetstream.JetStream
	results jetstream.KeyValue
	logger  *slog.Logger
}

var _ Dispatcher = (*NATSDispatcher)(nil)

// NewNATSDispatcher provisions the queue streams and the results
// bucket and returns a dispatcher on top of them.
func NewNATSDispatcher(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) (*NATSDispatcher, error) {
	if err := EnsureStreams(ctx, js); err != nil {
		return nil, err
	}
	results, err := EnsureResultsBucket(ctx, js)
	if err != nil {
		return nil, err
	}
	return &NATSDispatcher{js: js, results: results, logger: logger}, nil
}

// EnsureStreams creates the work queue stream of every queue.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	for _, queue := range Queues {
		name := StreamName(queue)
		if _, err := js.Stream(ctx, name); err == nil {
			continue
		}
		_, err := js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  StreamSubjects(queue),
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", name, err)
		}
	}
	return nil
}

// EnsureResultsBucket returns the results bucket, creating it when
// missing.
func EnsureResultsBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, ResultsBucket)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ResultsBucket,
		Description: "Results of awaited task calls",
		TTL:         resultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create results bucket: %w", err)
	}
	return kv, nil
}

// Submit publishes the invocation fire-and-forget.
func (d *NATSDispatcher) Submit(ctx context.Context, task string, kwargs core.Kwargs) (string, error) {
	envelope, err := NewEnvelope(task, kwargs)
	if err != nil {
		return "", err
	}
	if err := d.publish(ctx, envelope); err != nil {
		return "", err
	}
	return envelope.ID, nil
}

// Call publishes the invocation and joins its result. The watcher is
// created before publishing so a fast worker cannot win the race
// against it.
func (d *NATSDispatcher) Call(ctx context.Context, task string, kwargs core.Kwargs) (json.RawMessage, error) {
	envelope, err := NewEnvelope(task, kwargs)
	if err != nil {
		return nil, err
	}
	envelope.Reply = true

	watcher, err := d.results.Watch(ctx, envelope.ID)
	if err != nil {
		return nil, fmt.Errorf("watch result %s: %w", envelope.ID, err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			d.logger.Debug("stop result watcher", "error", err)
		}
	}()

	if err := d.publish(ctx, envelope); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await %s: %w", task, ctx.Err())
		case entry := <-watcher.Updates():
			if entry == nil {
				// Initial nil marks the watcher ready.
				continue
			}
			if entry.Operation() == jetstream.KeyValueDelete {
				return nil, fmt.Errorf("result of %s deleted before read", task)
			}
			var result Result
			if err := json.Unmarshal(entry.Value(), &result); err != nil {
				return nil, fmt.Errorf("unmarshal result of %s: %w", task, err)
			}
			if err := result.Err(); err != nil {
				return nil, err
			}
			return result.Value, nil
		}
	}
}

func (d *NATSDispatcher) publish(ctx context.Context, envelope *Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := d.js.Publish(ctx, Subject(envelope.Task), data); err != nil {
		return fmt.Errorf("publish %s: %w", envelope.Task, err)
	}
	tasksSubmitted.WithLabelValues(Queue(envelope.Task)).Inc()
	return nil
}
