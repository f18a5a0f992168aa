package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
	amqp "github.com/rabbitmq/amqp091-go"
)

// reconnectBackoff mirrors the pipeline's upload retry schedule: a few
// bounded attempts rather than an unbounded loop, so a broker outage
// surfaces as a held worker instead of a silent retry storm.
var reconnectBackoff = []time.Duration{1 * time.Second, 3 * time.Second, 9 * time.Second, 27 * time.Second}

// Client is the job queue client (C7): it owns the durable topology, the
// local job table (via store.Store), and the broker connection. It
// implements pkg/ingest.Enqueuer.
type Client struct {
	url   string
	store store.Store

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	stopCh chan struct{}
}

// New dials url, declares the durable topology, and starts a background
// reconnect monitor. st is the local job table both the bot process and
// the worker process share via a common data directory.
func New(url string, st store.Store) (*Client, error) {
	c := &Client{url: url, store: st, stopCh: make(chan struct{})}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.monitor()
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare topology: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()
	return nil
}

// monitor watches the connection's close notification and reconnects with
// a bounded backoff, redeclaring the topology on each attempt.
func (c *Client) monitor() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		closeCh := make(chan *amqp.Error, 1)
		conn.NotifyClose(closeCh)

		select {
		case err := <-closeCh:
			if err == nil {
				return // graceful Close()
			}
			log.Logger.Warn().Err(err).Msg("broker connection lost, reconnecting")
			c.reconnectWithBackoff()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) reconnectWithBackoff() {
	for _, wait := range reconnectBackoff {
		select {
		case <-c.stopCh:
			return
		case <-time.After(wait):
		}
		if err := c.connect(); err == nil {
			log.Logger.Info().Msg("broker connection restored")
			return
		}
	}
	log.Logger.Error().Msg("broker reconnect attempts exhausted; held until next signal")
}

// Close stops the reconnect monitor and closes the channel and connection.
func (c *Client) Close() error {
	close(c.stopCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Enqueue implements C7's enqueue(job) operation and pkg/ingest.Enqueuer:
// insert the local PENDING row, then publish the persistent envelope. If
// publish fails after the insert, the row is marked FAILED with
// enqueue_failed rather than left PENDING with nothing behind it.
func (c *Client) Enqueue(ctx context.Context, job *types.Job) error {
	if err := c.store.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("insert job row: %w", err)
	}
	if err := c.publish(ctx, job); err != nil {
		if rsErr := c.store.RecordState(ctx, job.ID, types.JobFailed, "enqueue_failed"); rsErr != nil {
			log.WithJobID(job.ID).Error().Err(rsErr).Msg("failed to mark job failed after publish error")
		}
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, job *types.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	return ch.PublishWithContext(ctx, ExchangeName, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.JobMetadata.CreatedAt,
		Body:         body,
	})
}

// Retry implements C7's retry(job_id): if the job is FAILED or CANCELLED,
// mark it PENDING and re-publish the stored payload unchanged.
func (c *Client) Retry(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := c.store.RetryJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := c.publish(ctx, job); err != nil {
		if rsErr := c.store.RecordState(ctx, job.ID, types.JobFailed, "enqueue_failed"); rsErr != nil {
			log.WithJobID(job.ID).Error().Err(rsErr).Msg("failed to mark job failed after retry publish error")
		}
		return nil, fmt.Errorf("republish job: %w", err)
	}
	return job, nil
}

// Cancel implements C7's cancel(job_id). It touches only the local row;
// a PROCESSING job's worker observes CANCELLATION_REQUESTED cooperatively
// at its own checkpoints rather than being interrupted mid-transfer.
func (c *Client) Cancel(ctx context.Context, jobID string) (*types.Job, error) {
	return c.store.CancelJob(ctx, jobID)
}

// Get implements C7's get(job_id) admin read.
func (c *Client) Get(ctx context.Context, jobID string) (*types.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// ListRecent implements C7's list_recent(limit) admin read.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]*types.Job, error) {
	return c.store.ListRecentJobs(ctx, limit)
}

// Consume starts delivering messages from the work queue with manual ack.
// Callers must Ack/Nack every delivery; an unacked delivery becomes
// visible again once the consumer's channel or connection drops.
func (c *Client) Consume(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}
	return ch.Consume(QueueName, consumerTag, false, false, false, false, nil)
}
