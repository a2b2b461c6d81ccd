package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Expirer interface {
	ExpireByID(ctx context.Context, documentID string) error
}

// TaskObserver receives per-task outcomes; metrics.WorkerMetrics implements it.
type TaskObserver interface {
	ObserveTask(task string, status string, duration time.Duration)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	expirer  Expirer
	observer TaskObserver
}

func NewProcessor(expirer Expirer, observer TaskObserver) *Processor {
	return &Processor{expirer: expirer, observer: observer}
}

func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(ExpireDocumentTask, p.handleExpire)
	return mux
}

func (p *Processor) handleExpire(ctx context.Context, task *asynq.Task) error {
	started := time.Now()
	payload, err := decodeExpirePayload(task)
	if err != nil {
		p.observe("invalid", started)
		slog.Error("expire_task_invalid", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if err := p.expirer.ExpireByID(ctx, payload.DocumentID); err != nil {
		p.observe("failed", started)
		slog.Error("expire_task_failed", "document_id", payload.DocumentID, "error", err)
		return err
	}
	p.observe("done", started)
	return nil
}

func (p *Processor) observe(status string, started time.Time) {
	if p.observer != nil {
		p.observer.ObserveTask(ExpireDocumentTask, status, time.Since(started))
	}
}
