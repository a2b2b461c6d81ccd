package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const (
	// ExpireDocumentTask fires when a published document reaches expires_at.
	ExpireDocumentTask = "document:expire"

	defaultMaxRetry = 5
)

// ExpirePayload identifies the document and the expires_at value the job was
// scheduled for. The handler re-reads the document, so a stale job is harmless.
type ExpirePayload struct {
	DocumentID string    `json:"document_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues delayed expiry tasks in Redis through asynq.
type Scheduler struct {
	client   enqueuer
	queue    string
	executor *resilience.Executor
}

type Options struct {
	Queue              string
	ResilienceExecutor *resilience.Executor
}

func New(client *asynq.Client, options Options) *Scheduler {
	return newScheduler(client, options)
}

func newScheduler(client enqueuer, options Options) *Scheduler {
	queue := strings.TrimSpace(options.Queue)
	if queue == "" {
		queue = "default"
	}
	return &Scheduler{client: client, queue: queue, executor: options.ResilienceExecutor}
}

func (s *Scheduler) ScheduleExpiry(ctx context.Context, documentID string, at time.Time) error {
	task, err := newExpireTask(ExpirePayload{DocumentID: documentID, ExpiresAt: at.UTC()})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.MaxRetry(defaultMaxRetry),
		asynq.ProcessAt(at),
		asynq.Queue(s.queue),
		asynq.TaskID(expireTaskID(documentID, at)),
	}

	call := func(ctx context.Context) error {
		_, err := s.client.EnqueueContext(ctx, task, opts...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "enqueue expire task", err)
		}
		return nil
	}

	if s.executor == nil {
		err = call(ctx)
	} else {
		err = s.executor.Execute(ctx, resilience.OpExpiryEnqueue, call, resilience.TransientClassifier)
	}
	if err != nil {
		return err
	}
	slog.Info("expiry_scheduled", "document_id", documentID, "expires_at", at.UTC())
	return nil
}

// expireTaskID makes rescheduling for the same instant idempotent while a
// later expires_at still gets its own task.
func expireTaskID(documentID string, at time.Time) string {
	return fmt.Sprintf("expire:%s:%d", documentID, at.UTC().Unix())
}

func newExpireTask(payload ExpirePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.DocumentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new expire task", errors.New("document id is required"))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ExpireDocumentTask, data), nil
}

func decodeExpirePayload(task *asynq.Task) (ExpirePayload, error) {
	var payload ExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExpirePayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(payload.DocumentID) == "" {
		return ExpirePayload{}, errors.New("decode payload: document id is required")
	}
	return payload, nil
}
