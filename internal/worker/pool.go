package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parallax-connect/internal/models"
	"parallax-connect/internal/parallax"
	"parallax-connect/internal/services"
)

const titlePrompt = "Generate a short, descriptive title (at most 6 words) for a conversation that starts with the message below. Respond with the title only, no quotes, no punctuation at the end.\n\n%s"

// sessionStore is the slice of the session repository the pool needs.
type sessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatSession, error)
	Rename(ctx context.Context, id uuid.UUID, title string) error
}

// Pool consumes background jobs from redis. Its only job type today is
// title generation for freshly archived sessions.
type Pool struct {
	redis       *redis.Client
	client      parallax.Client
	sessions    sessionStore
	publisher   services.Publisher
	model       string
	workerCount int
	logger      *zap.Logger
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	client parallax.Client,
	sessions sessionStore,
	publisher services.Publisher,
	model string,
	workerCount int,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		redis:       redisClient,
		client:      client,
		sessions:    sessions,
		publisher:   publisher,
		model:       model,
		workerCount: workerCount,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	p.logger.Info("started worker goroutines", zap.Int("count", p.workerCount))
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			p.logger.Info("worker shutting down", zap.Int("worker", id))
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 30*time.Second, titleQueue).Result()
		if err != nil {
			continue // timeout or transient error, retry
		}
		if len(result) < 2 {
			continue
		}

		var job titleJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			p.logger.Warn("failed to parse title job", zap.Int("worker", id), zap.Error(err))
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if err != nil || !locked {
			continue // another worker has this job
		}

		if err := p.processTitle(ctx, &job); err != nil {
			p.handleFailure(&job, err)
		}

		p.redis.Del(ctx, lockKey)
	}
}

func (p *Pool) processTitle(ctx context.Context, job *titleJob) error {
	session, err := p.sessions.GetByID(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	var firstUser string
	for _, m := range session.Messages {
		if m.IsUser && strings.TrimSpace(m.Text) != "" {
			firstUser = m.Text
			break
		}
	}
	if firstUser == "" {
		return nil // nothing to title
	}

	genCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text, _, err := p.client.Generate(genCtx, models.ChatRequest{
		Prompt:      fmt.Sprintf(titlePrompt, firstUser),
		Model:       p.model,
		MaxTokens:   60,
		Temperature: 0.3,
	})
	if err != nil {
		return fmt.Errorf("title generation failed: %w", err)
	}

	title := sanitizeTitle(text)
	if title == "" {
		return nil // keep the derived fallback title
	}

	if err := p.sessions.Rename(ctx, job.SessionID, title); err != nil {
		return fmt.Errorf("failed to save title: %w", err)
	}

	p.publisher.Publish(ctx, models.WSMessage{
		Type: "title_update",
		Payload: models.TitleUpdate{
			SessionID: job.SessionID.String(),
			Title:     title,
		},
	})

	p.logger.Info("generated session title",
		zap.String("session_id", job.SessionID.String()),
		zap.String("title", title))
	return nil
}

// sanitizeTitle collapses a model reply into a single clean line.
func sanitizeTitle(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")

	runes := []rune(title)
	if len(runes) > 80 {
		title = string(runes[:80])
	}
	return strings.TrimSpace(title)
}

func (p *Pool) handleFailure(job *titleJob, err error) {
	job.Attempt++

	if job.Attempt >= 3 {
		p.logger.Warn("title job failed permanently",
			zap.String("session_id", job.SessionID.String()),
			zap.Error(err))
		return
	}

	p.logger.Warn("title job failed, retrying",
		zap.String("session_id", job.SessionID.String()),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))

	jobBytes, _ := json.Marshal(job)
	backoff := time.Duration(1<<uint(job.Attempt)) * time.Second
	time.AfterFunc(backoff, func() {
		p.redis.LPush(context.Background(), titleQueue, string(jobBytes))
	})
}
