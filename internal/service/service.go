// Package service holds the use cases of the fund lifecycle: campaigns,
// donor voting, withdrawals and the refund batch engine.
package service

import (
	"context"
	"log/slog"
	"time"

	"fundflow/internal/domain"
	"fundflow/internal/logger"
	"fundflow/internal/port"
)

// Clock is overridden in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func orClock(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}

func orLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return logger.Discard()
	}
	return l
}

// publish is fire-and-forget: state is already committed when it runs.
func publish(ctx context.Context, events port.EventPublisher, log *slog.Logger, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		log.WarnContext(ctx, "event publish failed",
			"event_type", event.Type,
			"key", event.Key,
			"error", err,
		)
	}
}
