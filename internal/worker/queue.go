package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const titleQueue = "queue:title-generation"

type titleJob struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue pushes background jobs onto redis lists consumed by the pool.
type Queue struct {
	redis *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{redis: client}
}

func (q *Queue) EnqueueTitleJob(ctx context.Context, sessionID uuid.UUID) error {
	job := titleJob{
		ID:        uuid.New(),
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal title job: %w", err)
	}

	if err := q.redis.LPush(ctx, titleQueue, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue title job: %w", err)
	}

	return nil
}
