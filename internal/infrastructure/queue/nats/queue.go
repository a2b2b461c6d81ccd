package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const queueGroup = "notification-workers"

// Queue publishes owner notifications and feeds them to worker subscribers.
// It also fans out access changes to every connected process.
type Queue struct {
	conn          *nats.Conn
	subject       string
	accessSubject string
	origin        string
	executor      *resilience.Executor

	mu        sync.Mutex
	nextHook  int
	feedHooks map[int]func(healthy bool)
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	ClientName           string
	// AccessSubject carries role and capability invalidations.
	AccessSubject        string
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.ClientName
	if name == "" {
		name = "docflow"
	}
	accessSubject := options.AccessSubject
	if accessSubject == "" {
		accessSubject = defaultAccessSubject
	}
	q := &Queue{
		subject:       subject,
		accessSubject: accessSubject,
		origin:        name,
		executor:      options.ResilienceExecutor,
		feedHooks:     make(map[int]func(bool)),
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_connected", "url", nc.ConnectedUrl())
			q.feedChanged(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
			q.feedChanged(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
			q.feedChanged(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q.conn = conn
	return q, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Notify publishes the notification as JSON. The message id header carries
// the notification id so consumers can drop duplicates.
func (q *Queue) Notify(ctx context.Context, notification domain.Notification) error {
	payload, err := encodeNotification(notification)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: q.subject,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, notification.ID)

	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, resilience.OpNotificationPublish, call, ClassifyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

// SubscribeNotifications blocks until ctx is done, then drains the
// subscription. Malformed payloads are logged and dropped.
func (q *Queue) SubscribeNotifications(ctx context.Context, handler func(context.Context, domain.Notification) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		notification, err := decodeNotification(msg.Data)
		if err != nil {
			slog.Error("notification_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := handler(handlerCtx, notification); err != nil {
			slog.Error("notification_handler_failed",
				"notification_id", notification.ID,
				"document_id", notification.DocumentID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
