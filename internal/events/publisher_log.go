package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the log and retains nothing. It is the
// default sink when no brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	p.logger.LogAttrs(ctx, slog.LevelInfo, "event",
		slog.String("type", string(event.Type)),
		slog.String("target", string(event.Target)),
		slog.String("object_id", event.ObjectID),
	)
	return nil
}

var _ Publisher = (*LogPublisher)(nil)
