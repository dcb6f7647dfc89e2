// Package audit records who touched which secret and when. Events are
// append-only and returned in the order they were written.
package audit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidAction = errors.New("invalid access action")

// Sink persists access events. Every store backend implements it.
type Sink interface {
	SaveAccessEvent(ctx context.Context, event *Event) error
	QueryAccessEvents(ctx context.Context, filter *Filter) ([]*Event, error)
}

type Logger interface {
	LogEvent(ctx context.Context, event *Event) error
}

type logger struct {
	sink Sink
	log  *zap.Logger
}

func NewLogger(sink Sink, log *zap.Logger) Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &logger{
		sink: sink,
		log:  log.Named("audit"),
	}
}

func (l *logger) LogEvent(ctx context.Context, event *Event) error {
	if !event.Action.Valid() {
		return errors.Wrapf(ErrInvalidAction, "%q", event.Action)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.AccessedAt.IsZero() {
		event.AccessedAt = time.Now().UTC()
	}

	if err := l.sink.SaveAccessEvent(ctx, event); err != nil {
		return errors.Wrap(err, "failed to save access event")
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("org_id", event.OrgID),
		zap.String("action", string(event.Action)),
		zap.Time("accessed_at", event.AccessedAt),
	}
	if event.SecretID != nil {
		fields = append(fields, zap.String("secret_id", *event.SecretID))
	}
	l.log.Info("access", fields...)

	return nil
}
