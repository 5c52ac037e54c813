package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360studio/trawler/core"
)

// WorkerConfig tunes one queue consumer.
type WorkerConfig struct {
	Queue       string
	Concurrency int
	// MaxDeliver caps delivery attempts per invocation.
	MaxDeliver int
	// AckWait is how long a single attempt may run.
	AckWait time.Duration
	// RatePerSecond throttles handler starts, zero means unlimited.
	RatePerSecond float64
}

// DefaultWorkerConfig returns the baseline tuning for a queue.
func DefaultWorkerConfig(queue string) WorkerConfig {
	return WorkerConfig{
		Queue:       queue,
		Concurrency: 4,
		MaxDeliver:  3,
		AckWait:     5 * time.Minute,
	}
}

// Worker consumes one queue's stream and executes its tasks through
// the registry.
type Worker struct {
	cfg      WorkerConfig
	registry *Registry
	js       jetstream.JetStream
	results  jetstream.KeyValue
	logger   *slog.Logger

	consumer jetstream.Consumer
	sem      chan struct{}
	limiter  *rate.Limiter

	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker wires a worker to a queue. The results bucket may be nil
// when no task on the queue is ever awaited.
func NewWorker(cfg WorkerConfig, registry *Registry, js jetstream.JetStream, results jetstream.KeyValue, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 3
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 5 * time.Minute
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Worker{
		cfg:      cfg,
		registry: registry,
		js:       js,
		results:  results,
		logger:   logger.With("queue", cfg.Queue),
		sem:      make(chan struct{}, cfg.Concurrency),
		limiter:  limiter,
	}
}

// Start creates the durable consumer and begins fetching.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker for %s already running", w.cfg.Queue)
	}
	w.running = true
	subCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	stream, err := w.js.Stream(subCtx, StreamName(w.cfg.Queue))
	if err != nil {
		w.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", StreamName(w.cfg.Queue), err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:    w.cfg.Queue + "-workers",
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    w.cfg.AckWait,
		MaxDeliver: w.cfg.MaxDeliver,
	})
	if err != nil {
		w.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.consumeLoop(subCtx)
	}()

	w.logger.Info("worker started",
		"stream", StreamName(w.cfg.Queue),
		"concurrency", w.cfg.Concurrency,
		"max_deliver", w.cfg.MaxDeliver)
	return nil
}

func (w *Worker) rollbackStart(cancel context.CancelFunc) {
	w.mu.Lock()
	w.running = false
	w.cancel = nil
	w.mu.Unlock()
	cancel()
}

// Stop cancels fetching and waits for inflight handlers.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			select {
			case w.sem <- struct{}{}:
			case <-ctx.Done():
				if err := msg.Nak(); err != nil {
					w.logger.Warn("failed to NAK message", "error", err)
				}
				return
			}
			w.wg.Add(1)
			go func(msg jetstream.Msg) {
				defer func() {
					<-w.sem
					w.wg.Done()
				}()
				w.handleMessage(ctx, msg)
			}(msg)
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			w.logger.Warn("message fetch error", "error", msgs.Error())
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg jetstream.Msg) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	var envelope Envelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		w.logger.Error("failed to parse envelope", "error", err)
		w.terminate(msg)
		return
	}
	logger := w.logger.With("task", envelope.Task, "id", envelope.ID, "attempt", attempt)

	handler, ok := w.registry.Handler(envelope.Task)
	if !ok {
		logger.Error("no handler registered")
		w.publishResult(ctx, &envelope, nil, fmt.Errorf("no handler registered for task %q", envelope.Task))
		w.terminate(msg)
		return
	}

	var kwargs core.Kwargs
	if len(envelope.Kwargs) > 0 {
		if err := json.Unmarshal(envelope.Kwargs, &kwargs); err != nil {
			logger.Error("failed to parse kwargs", "error", err)
			w.publishResult(ctx, &envelope, nil, fmt.Errorf("parse kwargs: %w", err))
			w.terminate(msg)
			return
		}
	}
	req := Request{
		Task:        envelope.Task,
		ID:          envelope.ID,
		Kwargs:      kwargs,
		Attempt:     attempt,
		MaxAttempts: w.cfg.MaxDeliver,
		raw:         envelope.Kwargs,
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			if nakErr := msg.Nak(); nakErr != nil {
				logger.Warn("failed to NAK message", "error", nakErr)
			}
			return
		}
	}

	lifecycle := w.registry.Lifecycle(envelope.Task)
	if lifecycle != nil {
		lifecycle.BeforeStart(ctx, req)
	}

	tasksInflight.WithLabelValues(w.cfg.Queue).Inc()
	value, err := handler.Handle(ctx, req)
	tasksInflight.WithLabelValues(w.cfg.Queue).Dec()

	if err == nil {
		w.publishResult(ctx, &envelope, value, nil)
		if lifecycle != nil {
			lifecycle.OnSuccess(ctx, req)
		}
		tasksProcessed.WithLabelValues(w.cfg.Queue, envelope.Task).Inc()
		if err := msg.Ack(); err != nil {
			logger.Warn("failed to ACK message", "error", err)
		}
		return
	}

	final := IsNonRetryable(err) || attempt >= w.cfg.MaxDeliver
	if final {
		logger.Error("task failed", "error", err)
		w.publishResult(ctx, &envelope, nil, err)
		if lifecycle != nil {
			lifecycle.OnFailure(ctx, req, err)
		}
		tasksFailed.WithLabelValues(w.cfg.Queue, envelope.Task).Inc()
		w.terminate(msg)
		return
	}

	logger.Warn("task failed, scheduling retry", "error", err)
	if lifecycle != nil {
		lifecycle.OnRetry(ctx, req, err)
	}
	tasksRetried.WithLabelValues(w.cfg.Queue, envelope.Task).Inc()
	if err := msg.NakWithDelay(retryDelay(attempt)); err != nil {
		logger.Warn("failed to NAK message", "error", err)
	}
}

func (w *Worker) terminate(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		w.logger.Warn("failed to terminate message", "error", err)
	}
}

// publishResult stores the outcome for an awaiting caller. Failures
// are stored too so callers unblock with the remote error.
func (w *Worker) publishResult(ctx context.Context, envelope *Envelope, value any, taskErr error) {
	if !envelope.Reply || w.results == nil {
		return
	}
	result := Result{
		ID:         envelope.ID,
		Task:       envelope.Task,
		FinishedAt: core.EpochNow(),
	}
	if taskErr != nil {
		result.Error = taskErr.Error()
	} else if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			w.logger.Error("failed to marshal result value", "task", envelope.Task, "error", err)
			result.Error = fmt.Sprintf("marshal result: %v", err)
		} else {
			result.Value = raw
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("failed to marshal result", "task", envelope.Task, "error", err)
		return
	}
	if _, err := w.results.Put(ctx, envelope.ID, data); err != nil {
		w.logger.Error("failed to store result", "task", envelope.Task, "error", err)
	}
}

// retryDelay walks the exponential backoff to the delay of the given
// attempt, keeping the jitter the policy applies per step.
func retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}
