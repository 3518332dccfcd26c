package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// UnitTask asks a worker to execute one unit of a job.
type UnitTask struct {
	JobID     string `json:"job_id"`
	UnitIndex int    `json:"unit_index"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareTopology declares the main queue plus its .retry and .dlq queues.
// Publisher and worker both call it so either can start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	})
	return err
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Dispatch enqueues one task per unit index.
func (p *Publisher) Dispatch(ctx context.Context, jobID string, indices []int) error {
	for _, i := range indices {
		if err := p.PublishUnit(ctx, UnitTask{JobID: jobID, UnitIndex: i}); err != nil {
			return fmt.Errorf("publish unit %d: %w", i, err)
		}
	}
	return nil
}

func (p *Publisher) PublishUnit(ctx context.Context, task UnitTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return retry.Do(
		func() error {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			// amqp channels are not safe for concurrent publishes
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.ch.PublishWithContext(cctx,
				"",      // default exchange
				p.queue, // routing key = queue
				false,
				false,
				amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         body,
					Timestamp:    time.Now(),
				},
			)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
