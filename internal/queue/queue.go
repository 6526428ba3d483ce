package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/unclebandit/engagement-escrow/internal/model"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// InMemoryQueue delivers each published payload to every subscriber of the
// topic on its own goroutine, retrying failed handlers with linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup

	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *slog.Logger) *InMemoryQueue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
		Logger:     logger,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{
			Topic:      topic,
			Payload:    payload,
			MaxRetries: q.MaxRetries,
		}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	for {
		err := handler(job.Payload)
		if err == nil {
			q.Logger.Debug("job processed", "topic", job.Topic, "attempt", job.RetryCount+1)
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.Logger.Error("job permanently failed",
				"topic", job.Topic, "attempts", job.RetryCount, "error", err)
			return
		}
		q.Logger.Warn("job failed, retrying",
			"topic", job.Topic, "attempt", job.RetryCount, "max_retries", job.MaxRetries, "error", err)
		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// StartReleaseSubscriber feeds release jobs from topic into handle. Payloads
// arrive either as model.ReleaseJob (in process) or as JSON bytes (broker).
func StartReleaseSubscriber(q Queue, topic string, handle func(model.ReleaseJob) error, logger *slog.Logger) error {
	return q.Subscribe(topic, func(payload any) error {
		job, err := DecodeReleaseJob(payload)
		if err != nil {
			// A malformed job will never succeed; drop it.
			logger.Error("invalid release job", "topic", topic, "error", err)
			return nil
		}
		return handle(job)
	})
}

// StartEventLogSubscriber logs every event published on topic. It is the
// event sink when no broker is configured.
func StartEventLogSubscriber(q Queue, topic string, logger *slog.Logger) error {
	return q.Subscribe(topic, func(payload any) error {
		switch ev := payload.(type) {
		case model.Event:
			logger.Info("escrow event", "type", ev.Type, "campaign", ev.Campaign, "id", ev.ID)
		case []byte:
			var decoded model.Event
			if err := json.Unmarshal(ev, &decoded); err != nil {
				logger.Warn("undecodable escrow event", "error", err)
				return nil
			}
			logger.Info("escrow event", "type", decoded.Type, "campaign", decoded.Campaign, "id", decoded.ID)
		default:
			logger.Info("escrow event", "payload", fmt.Sprintf("%v", payload))
		}
		return nil
	})
}

func DecodeReleaseJob(payload any) (model.ReleaseJob, error) {
	switch v := payload.(type) {
	case model.ReleaseJob:
		return v, nil
	case *model.ReleaseJob:
		if v == nil {
			return model.ReleaseJob{}, fmt.Errorf("nil release job")
		}
		return *v, nil
	case []byte:
		var job model.ReleaseJob
		if err := json.Unmarshal(v, &job); err != nil {
			return model.ReleaseJob{}, fmt.Errorf("decode release job: %w", err)
		}
		return job, nil
	default:
		return model.ReleaseJob{}, fmt.Errorf("unexpected release job payload %T", payload)
	}
}
