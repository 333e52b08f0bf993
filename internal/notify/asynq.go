package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	// TaskDeliver carries one Request. One task per recipient keeps a retry
	// from replaying merges for recipients that already succeeded.
	TaskDeliver = "notify:deliver"

	QueueName = "notifications"

	taskMaxRetry = 5
)

// AsynqQueue is the durable Dispatcher: requests are enqueued in Redis and
// delivered by an asynq worker server, so they survive a restart and are
// retried on failure.
type AsynqQueue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

var _ Dispatcher = (*AsynqQueue)(nil)

// NewAsynqQueue builds the client and the worker server. Nothing connects
// until Dispatch or Run.
func NewAsynqQueue(redisOpt asynq.RedisConnOpt, notifier Notifier, concurrency int, logger *zap.Logger) *AsynqQueue {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("notification task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskDeliver, newDeliverHandler(notifier))

	return &AsynqQueue{
		client: asynq.NewClient(redisOpt),
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

func (q *AsynqQueue) Dispatch(ctx context.Context, reqs []Request) error {
	for _, req := range reqs {
		task, err := newDeliverTask(req)
		if err != nil {
			return err
		}
		if _, err := q.client.EnqueueContext(ctx, task,
			asynq.Queue(QueueName),
			asynq.MaxRetry(taskMaxRetry),
			asynq.Timeout(deliverTimeout),
		); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
	}
	return nil
}

// Run serves tasks until ctx is cancelled, then shuts the server down and
// closes the client.
func (q *AsynqQueue) Run(ctx context.Context) error {
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("start notification worker: %w", err)
	}
	<-ctx.Done()
	q.server.Shutdown()
	return q.client.Close()
}

func newDeliverTask(req Request) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode notification task: %w", err)
	}
	return asynq.NewTask(TaskDeliver, payload), nil
}

type deliverHandler struct {
	notifier Notifier
}

func newDeliverHandler(notifier Notifier) *deliverHandler {
	return &deliverHandler{notifier: notifier}
}

// ProcessTask decodes one Request and delivers it. A payload that cannot be
// decoded will never succeed, so it skips retries.
func (h *deliverHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var req Request
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	if _, err := h.notifier.Notify(ctx, req); err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	return nil
}

var _ asynq.Handler = (*deliverHandler)(nil)
