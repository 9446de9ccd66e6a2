package events

import (
	"context"
	"log/slog"
)

// Inbox is a channel-backed Publisher. Services write to it without blocking
// on broker round-trips; the Worker drains it into the real bus.
type Inbox struct {
	ch chan Event
}

func NewInbox(buffer int) *Inbox {
	return &Inbox{ch: make(chan Event, buffer)}
}

func (i *Inbox) Emit(ctx context.Context, event Event) error {
	select {
	case i.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Worker forwards inbox events to the downstream publisher until the context
// is cancelled. Delivery failures are logged and dropped; the bus is not a
// system of record.
type Worker struct {
	inbox  *Inbox
	sink   Publisher
	logger *slog.Logger
}

func NewWorker(inbox *Inbox, sink Publisher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{inbox: inbox, sink: sink, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox.ch:
			if err := w.sink.Emit(ctx, event); err != nil {
				w.logger.Error("event delivery failed",
					"type", event.Type,
					"target", event.Target,
					"object_id", event.ObjectID,
					"error", err,
				)
			}
		}
	}
}
