package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminalearn/coursepay-api/pkg/config"
	"github.com/luminalearn/coursepay-api/pkg/jobs"
)

// Message is the payload carried through the dispatch queue.
type Message struct {
	Template  string
	Recipient string
	Data      map[string]interface{}
}

// Dispatcher hands notifications to a worker queue so slow relays never block
// request handling. Failed deliveries are retried by the queue.
type Dispatcher struct {
	notifier Notifier
	queue    *jobs.Queue
	logger   *zap.Logger
}

// NewDispatcher builds a dispatcher backed by an in-memory worker queue.
func NewDispatcher(notifier Notifier, cfg config.NotifierConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{notifier: notifier, logger: logger}
	d.queue = jobs.NewQueue("notifications", d.handle, jobs.Options{
		Workers:     cfg.WorkerConcurrency,
		MaxAttempts: cfg.WorkerRetries,
		Logger:      logger,
	})
	return d
}

// Start launches the dispatch workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Enqueue schedules a notification for asynchronous delivery.
func (d *Dispatcher) Enqueue(msg Message) error {
	return d.queue.Enqueue(jobs.Task{
		ID:      uuid.NewString(),
		Kind:    msg.Template,
		Payload: msg,
	})
}

func (d *Dispatcher) handle(ctx context.Context, task jobs.Task) error {
	msg, ok := task.Payload.(Message)
	if !ok {
		return fmt.Errorf("unexpected payload type for task %s", task.ID)
	}
	delivered, err := d.notifier.Send(ctx, msg.Template, msg.Recipient, msg.Data)
	if err != nil {
		return err
	}
	if !delivered {
		d.logger.Warn("notification not delivered",
			zap.String("template", msg.Template), zap.String("recipient", msg.Recipient))
	}
	return nil
}
