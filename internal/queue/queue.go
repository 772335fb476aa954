package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRenderJobs = "queue:render_jobs"

	// maxPending bounds the nudge list. Jobs live in Postgres; a dropped
	// nudge only delays pickup until the next poll.
	maxPending = 1000
)

// Queue is a wake-up channel for idle workers. It never carries job state.
type Queue struct {
	client *redis.Client
	name   string
}

type Notification struct {
	JobID     uuid.UUID `json:"job_id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client, name: QueueRenderJobs}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// NotifyJobQueued nudges one idle worker.
func (q *Queue) NotifyJobQueued(ctx context.Context, jobID uuid.UUID, owner string) error {
	data, err := json.Marshal(Notification{JobID: jobID, Owner: owner, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.name, data)
	pipe.LTrim(ctx, q.name, -maxPending, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

// WaitForJob blocks until a nudge arrives or timeout passes. It returns nil,
// nil on timeout.
func (q *Queue) WaitForJob(ctx context.Context, timeout time.Duration) (*Notification, error) {
	result, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to wait for job: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var n Notification
	if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	return &n, nil
}

func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
