package scheduler

import (
	"context"
	"errors"
	"fmt"

	"inbox_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues hand-off tasks for the automation engine.
type Client struct {
	client *asynq.Client
	queue  string
}

// AutomationEnqueuer hands received messages to the automation engine.
type AutomationEnqueuer interface {
	EnqueueMessageReceived(ctx context.Context, payload MessageReceivedPayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	return newClient(asynq.NewClient(opt), cfg.GetAsynqQueueName()), nil
}

// NewWithRedis builds a client on an existing redis connection.
func NewWithRedis(rdb redis.UniversalClient, queue string) *Client {
	return newClient(asynq.NewClientFromRedisClient(rdb), queue)
}

func newClient(client *asynq.Client, queue string) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{client: client, queue: queue}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueMessageReceived enqueues one task per message. The message id is the
// task id, so a second enqueue for the same message is a no-op.
func (c *Client) EnqueueMessageReceived(ctx context.Context, payload MessageReceivedPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewMessageReceivedTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.MessageID),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
