package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const (
	defaultAccessSubject = "docflow.access.changed"
	accessFlushTimeout   = 2 * time.Second
)

// accessChange is the wire form of a role or capability change. An empty
// ActorID invalidates every actor.
type accessChange struct {
	ActorID string    `json:"actor_id"`
	Origin  string    `json:"origin"`
	At      time.Time `json:"at"`
}

func encodeAccessChange(c accessChange) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal access change: %w", err)
	}
	return payload, nil
}

func decodeAccessChange(payload []byte) (accessChange, error) {
	var c accessChange
	if err := json.Unmarshal(payload, &c); err != nil {
		return accessChange{}, domain.WrapError(domain.ErrInvalidInput, "decode access change", err)
	}
	return c, nil
}

// BroadcastAccessChange publishes the change and flushes, so a short-lived
// process such as the CLI does not exit with the message still buffered.
func (q *Queue) BroadcastAccessChange(ctx context.Context, actorID string) error {
	payload, err := encodeAccessChange(accessChange{ActorID: actorID, Origin: q.origin, At: time.Now().UTC()})
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.accessSubject, payload); err != nil {
			return fmt.Errorf("nats publish access change: %w", err)
		}
		if err := q.conn.FlushTimeout(accessFlushTimeout); err != nil {
			return fmt.Errorf("nats flush access change: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, resilience.OpAccessBroadcast, call, ClassifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

// SubscribeAccessChanges delivers every broadcast to the listener. No queue
// group is used: each process keeps its own cache. The listener is also told
// when the connection drops and comes back.
func (q *Queue) SubscribeAccessChanges(listener ports.AccessChangeListener) (func(), error) {
	sub, err := q.conn.Subscribe(q.accessSubject, func(msg *nats.Msg) {
		change, err := decodeAccessChange(msg.Data)
		if err != nil {
			slog.Error("access_change_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		listener.AccessChanged(change.ActorID)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe access changes: %w", err)
	}

	removeHook := q.onFeedChange(listener.SetAccessFeedHealthy)
	if !q.conn.IsConnected() {
		listener.SetAccessFeedHealthy(false)
	}
	return func() {
		removeHook()
		if err := sub.Unsubscribe(); err != nil && q.conn.IsConnected() {
			slog.Warn("access_change_unsubscribe_failed", "error", err)
		}
	}, nil
}

func (q *Queue) onFeedChange(hook func(healthy bool)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextHook
	q.nextHook++
	q.feedHooks[id] = hook
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.feedHooks, id)
	}
}

func (q *Queue) feedChanged(healthy bool) {
	q.mu.Lock()
	hooks := make([]func(bool), 0, len(q.feedHooks))
	for _, hook := range q.feedHooks {
		hooks = append(hooks, hook)
	}
	q.mu.Unlock()
	for _, hook := range hooks {
		hook(healthy)
	}
}
