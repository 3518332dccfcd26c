package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
)

// ErrBadTask marks messages that can never be processed; they go to the DLQ.
var ErrBadTask = errors.New("bad task")

const (
	retryCountHeader  = "x-retry-count"
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// route decides where a delivery goes after its handler returned err.
func route(err error, retries, maxRetries int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrBadTask), retries >= maxRetries:
		return outcomeDeadLetter
	default:
		return outcomeRetry
	}
}

// retryCount reads how many times a message went through the retry queue.
func retryCount(h amqp.Table) int {
	switch v := h[retryCountHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// backoff doubles the base delay per previous retry.
func backoff(base time.Duration, retries int) time.Duration {
	return base << retries
}

type TaskHandler func(ctx context.Context, task UnitTask) error

// DecodeTask parses a delivery body.
func DecodeTask(body []byte) (UnitTask, error) {
	var t UnitTask
	if err := json.Unmarshal(body, &t); err != nil {
		return t, errors.Join(ErrBadTask, err)
	}
	if t.JobID == "" || t.UnitIndex < 0 {
		return t, ErrBadTask
	}
	return t, nil
}

type Consumer struct {
	mu          sync.Mutex // guards publishes on ch
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	log         *logger.Logger
}

type ConsumerOption func(*Consumer)

// WithRetry sets how often a transiently failing task is re-queued through
// the .retry queue, and the delay before the first retry.
func WithRetry(maxRetries int, delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

func NewConsumer(url, queue string, concurrency int, log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logger.Nop()
	}
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
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	c := &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled. Handled tasks are acked even when the
// unit failed, since the failure is recorded on the job. Infrastructure errors
// go through the .retry queue; malformed tasks and tasks out of retries are
// nacked to the DLQ.
func (c *Consumer) Run(ctx context.Context, handle TaskHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, c.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				c.process(ctx, workerID, d, handle)
			}
		}(i)
	}

	defer func() {
		close(deliveries)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			deliveries <- d
		}
	}
}

func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery, handle TaskHandler) {
	task, err := DecodeTask(d.Body)
	if err != nil {
		c.log.Warn("bad message", "worker", workerID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	err = handle(ctx, task)
	retries := retryCount(d.Headers)
	switch route(err, retries, c.maxRetries) {
	case outcomeAck:
		if err := d.Ack(false); err != nil {
			c.log.Warn("ack failed", "worker", workerID, "job_id", task.JobID, "error", err)
		}
	case outcomeRetry:
		delay := backoff(c.retryDelay, retries)
		c.log.Warn("task failed, retrying", "worker", workerID, "job_id", task.JobID, "unit", task.UnitIndex,
			"cost", time.Since(start), "retry", retries+1, "delay", delay, "error", err)
		if perr := c.publishRetry(ctx, d, retries+1, delay); perr != nil {
			c.log.Error("retry publish failed", "job_id", task.JobID, "error", perr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	case outcomeDeadLetter:
		c.log.Error("task failed", "worker", workerID, "job_id", task.JobID, "unit", task.UnitIndex,
			"cost", time.Since(start), "retries", retries, "error", err)
		_ = d.Nack(false, false)
	}
}

// publishRetry parks the message on the .retry queue; its per-message TTL
// dead-letters it back onto the main queue.
func (c *Consumer) publishRetry(ctx context.Context, d amqp.Delivery, retries int, delay time.Duration) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(cctx, "", c.queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      amqp.Table{retryCountHeader: int32(retries)},
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}
