package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue implements Queue on RabbitMQ. Every topic is a durable queue on
// the default exchange; handlers receive the raw message body ([]byte).
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex // guards ch for publishing and declared
	declared map[string]bool
	wg       sync.WaitGroup

	maxRetries int
	logger     *slog.Logger
}

func DialAMQP(url string, maxRetries int, logger *slog.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{
		conn:       conn,
		ch:         ch,
		declared:   make(map[string]bool),
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	if q.declared[topic] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.declare(topic); err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{retryHeader: retries},
			Body:         body,
		},
	)
}

// Subscribe consumes topic with manual acks. A failed delivery is
// republished with an incremented retry header until maxRetries is hit,
// then dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	err := q.declare(topic)
	var msgs <-chan amqp.Delivery
	if err == nil {
		msgs, err = q.ch.Consume(
			topic,
			"",
			false, // autoAck = false for reliability
			false,
			false,
			false,
			nil,
		)
	}
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			q.deliver(topic, d, handler)
		}
	}()
	return nil
}

func (q *AMQPQueue) deliver(topic string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if retries >= int32(q.maxRetries) {
		q.logger.Error("message permanently failed",
			"topic", topic, "message_id", d.MessageId, "attempts", retries+1, "error", err)
		_ = d.Nack(false, false)
		return
	}
	q.logger.Warn("message failed, requeueing",
		"topic", topic, "message_id", d.MessageId, "attempt", retries+1, "error", err)
	if perr := q.publish(topic, d.Body, retries+1); perr != nil {
		q.logger.Error("failed to requeue message", "topic", topic, "error", perr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close stops consumers and waits for in-flight deliveries.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	chErr := q.ch.Close()
	q.mu.Unlock()
	connErr := q.conn.Close()
	q.wg.Wait()
	if chErr != nil {
		return chErr
	}
	return connErr
}

func retryCount(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	case int16:
		return int32(v)
	case int8:
		return int32(v)
	default:
		return 0
	}
}

var _ Queue = (*AMQPQueue)(nil)
