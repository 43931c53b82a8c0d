package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"doc-qa/internal/retry"
)

const (
	subjectPrefix      = "docqa.tasks."
	defaultMaxAttempts = 5
	retryBase          = time.Second
)

// NewNATS constructs a thin NATS-based queue. Tasks larger than the server's
// max_payload are rejected with ErrPayloadTooLarge before publishing.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, publish: nc.Publish, subscribe: nc.QueueSubscribe, maxPayload: nc.MaxPayload()}
}

type natsQueue struct {
	log        *slog.Logger
	publish    func(subject string, data []byte) error
	subscribe  func(subject, group string, cb nats.MsgHandler) (*nats.Subscription, error)
	maxPayload int64 // 0 means unknown
}

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Type == "" {
		return errors.New("task type required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if q.maxPayload > 0 && int64(len(body)) > q.maxPayload {
		return fmt.Errorf("%w: %d bytes encoded (max %d)", ErrPayloadTooLarge, len(body), q.maxPayload)
	}
	return q.publish(subjectPrefix+string(task.Type), body)
}

func (q *natsQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	subject := subjectPrefix + string(taskType)
	group := "workers-" + string(taskType)
	sub, err := q.subscribe(subject, group, func(msg *nats.Msg) {
		q.handleMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return err
	}
	q.log.Info("worker subscribed", "subject", subject, "group", group)
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (q *natsQueue) handleMessage(ctx context.Context, data []byte, handler Handler) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}

	if wait := time.Until(task.NotBefore); wait > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	if err := handler(ctx, task); err != nil {
		q.retryTask(ctx, task, err)
	}
}

func (q *natsQueue) retryTask(ctx context.Context, task Task, handlerErr error) {
	task.Attempts++
	if task.MaxAttempts == 0 {
		task.MaxAttempts = defaultMaxAttempts
	}

	if task.Attempts >= task.MaxAttempts {
		q.log.Error("task permanently failed", "id", task.ID, "type", task.Type, "attempts", task.Attempts, "original_err", handlerErr)
		return
	}
	delay := retry.ExponentialBackoff(task.Attempts, retryBase)
	task.NotBefore = time.Now().Add(delay)
	if err := q.Enqueue(ctx, task); err != nil {
		q.log.Error("failed to re-enqueue task after failure", "id", task.ID, "type", task.Type, "original_err", handlerErr, "enqueue_err", err)
		return
	}
	q.log.Warn("task failed; scheduled retry", "id", task.ID, "type", task.Type, "attempt", task.Attempts, "delay", delay, "err", handlerErr)
}
