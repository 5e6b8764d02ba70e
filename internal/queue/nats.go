package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	natsSubject     = "searchbridge.tasks"
	natsGroup       = "searchbridge-workers"
	handlerDeadline = 5 * time.Minute
)

// NATS is a Queue over a NATS JetStream subject with a durable queue group,
// so multiple worker processes share the task stream.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATS connects to a NATS server and prepares the JetStream context.
func NewNATS(url string, logger *zap.Logger) (*NATS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("searchbridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &NATS{conn: conn, js: js, logger: logger}, nil
}

// Enqueue publishes the task as JSON.
func (q *NATS) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if _, err := q.js.Publish(natsSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Subscribe consumes tasks with manual acks; a failing handler nacks so the
// task is redelivered.
func (q *NATS) Subscribe(handler Handler) (func() error, error) {
	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxAckPending(16),
	}

	sub, err := q.js.QueueSubscribe(natsSubject, natsGroup, func(msg *nats.Msg) {
		var task Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.logger.Error("dropping undecodable task", zap.Error(err))
			_ = msg.Ack()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerDeadline)
		defer cancel()

		if err := handler(ctx, task); err != nil {
			q.logger.Error("task failed, requeueing",
				zap.String("op", string(task.Op)),
				zap.String("index", task.Index),
				zap.Error(err),
			)
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			q.logger.Error("ack failed", zap.Error(err))
		}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", natsSubject, err)
	}

	return sub.Unsubscribe, nil
}

// Close drains the connection, letting in-flight handlers finish.
func (q *NATS) Close() error {
	return q.conn.Drain()
}
