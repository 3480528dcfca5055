// Package nats carries indexing and session lifecycle events between the API
// and the worker.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dkorsak/docqa/internal/infrastructure/resilience"
)

const (
	subjectIndexRequested = "docs.index.requested"
	subjectSessionClosed  = "sessions.closed"

	workerGroup = "docqa-workers"
)

type Queue struct {
	conn   *nats.Conn
	runner *resilience.Runner
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Runner         *resilience.Runner
}

func New(url string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("docqa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{conn: conn, runner: options.Runner}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishIndexRequested asks the worker to rebuild one document's chunks.
func (q *Queue) PublishIndexRequested(ctx context.Context, documentID string) error {
	return q.publish(ctx, subjectIndexRequested, documentID)
}

func (q *Queue) SubscribeIndexRequested(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, subjectIndexRequested, handler)
}

// PublishSessionClosed announces a session teardown so the worker can drop
// its persisted state.
func (q *Queue) PublishSessionClosed(ctx context.Context, sessionID string) error {
	return q.publish(ctx, subjectSessionClosed, sessionID)
}

func (q *Queue) SubscribeSessionClosed(ctx context.Context, handler func(context.Context, string) error) error {
	return q.subscribe(ctx, subjectSessionClosed, handler)
}

func (q *Queue) publish(ctx context.Context, subject, payload string) error {
	call := func(context.Context) error {
		if err := q.conn.Publish(subject, []byte(payload)); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.runner != nil {
		err = q.runner.Do(ctx, "nats.publish."+subject, classifyError, call)
	} else {
		err = call(ctx)
	}
	return wrapTemporary(subject, err)
}

// subscribe joins the shared worker group on the subject and blocks until
// the context is cancelled, then drains.
func (q *Queue) subscribe(ctx context.Context, subject string, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		if err := handler(ctx, string(msg.Data)); err != nil {
			slog.Error("queue_handler_failed", "subject", subject, "payload", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain %s: %w", subject, err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
