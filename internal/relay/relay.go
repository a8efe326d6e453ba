// Package relay is the surrounding pipeline worker: it consumes
// JSON-encoded operations from the bus, drives them through the
// interception middleware against the configured store backend, and
// publishes the derived change events for downstream consumers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"changewatch/internal/ctxkeys"
	"changewatch/internal/events"
	"changewatch/internal/pubsub"
	"changewatch/internal/storage"
	"changewatch/internal/watch"
	"changewatch/pkg/model"
)

// Backend is the store the relay executes operations against.
type Backend interface {
	storage.Store
	storage.Executor
}

// Relay wires consumer -> middleware -> backend -> publisher.
type Relay struct {
	backend    Backend
	consumer   pubsub.Consumer
	publisher  pubsub.Publisher
	middleware *watch.Middleware
}

// Options configures a Relay.
type Options struct {
	// Watch restricts which collections produce change events. Nil means all.
	Watch watch.CollectionPredicate

	// Registry overrides the default watcher table. Nil means defaults.
	Registry watch.Registry

	// PublishPreEvents also publishes pre-execution events. Post-execution
	// events are always published.
	PublishPreEvents bool
}

// New builds a Relay. The middleware hooks publish one event per derived
// change, so consumers never see partially described operations.
func New(backend Backend, consumer pubsub.Consumer, publisher pubsub.Publisher, opts Options) *Relay {
	r := &Relay{
		backend:   backend,
		consumer:  consumer,
		publisher: publisher,
	}

	watchOpts := watch.Options{
		Registry: opts.Registry,
		Watch:    opts.Watch,
		PostHook: r.publishHook(events.PhasePost),
	}
	if opts.PublishPreEvents {
		watchOpts.PreHook = r.publishHook(events.PhasePre)
	}
	r.middleware = watch.New(backend, backend, watchOpts)
	return r
}

// Middleware exposes the interception stage, e.g. to toggle it at runtime.
func (r *Relay) Middleware() *watch.Middleware {
	return r.middleware
}

// Run consumes operations until the context ends.
func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.consumer.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to operations: %w", err)
	}

	slog.Info("Relay started")
	for msg := range msgs {
		r.handle(ctx, msg)
	}
	slog.Info("Relay stopped")
	return nil
}

func (r *Relay) handle(ctx context.Context, msg pubsub.Message) {
	var op storage.Operation
	if err := json.Unmarshal(msg.Data(), &op); err != nil {
		slog.Warn("Dropping undecodable operation",
			"subject", msg.Subject(),
			"error", err,
		)
		dispose("term", msg.Term)
		return
	}

	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxkeys.KeyRequestID, requestID)

	if _, err := r.middleware.Process(ctx, op); err != nil {
		if isUsageError(err) {
			slog.Warn("Rejecting invalid operation",
				"request_id", requestID,
				"operation", op.Name(),
				"error", err,
			)
			dispose("term", msg.Term)
			return
		}
		slog.Error("Operation failed, requesting redelivery",
			"request_id", requestID,
			"operation", op.Name(),
			"error", err,
		)
		dispose("nak", msg.Nak)
		return
	}

	dispose("ack", msg.Ack)
}

// dispose applies the chosen message disposition. A failure (e.g. a dead
// bus connection) means the bus may redeliver, which handle tolerates; it
// still must be visible in the logs.
func dispose(name string, f func() error) {
	if err := f(); err != nil {
		slog.Warn("Message disposition failed",
			"disposition", name,
			"error", err,
		)
	}
}

// publishHook publishes one event per derived change. A publish failure
// aborts the operation, so a consumer never misses part of a change set.
func (r *Relay) publishHook(phase events.Phase) watch.Hook {
	return func(ctx context.Context, _ storage.Operation, _ storage.Operation, info *watch.ChangeInfo) error {
		for _, c := range info.Changes {
			ev := events.FromChange(phase, c)
			data, err := ev.Marshal()
			if err != nil {
				return fmt.Errorf("encode change event: %w", err)
			}
			if err := r.publisher.Publish(ctx, events.Subject(c.Collection), data); err != nil {
				return fmt.Errorf("publish change event: %w", err)
			}
		}
		return nil
	}
}

// isUsageError reports whether the error is a permanent rejection: the
// operation can never succeed, so redelivery would only loop.
func isUsageError(err error) bool {
	return errors.Is(err, model.ErrInvalidOperation) ||
		errors.Is(err, model.ErrUnknownOperation) ||
		errors.Is(err, model.ErrMissingPlaceholder) ||
		errors.Is(err, model.ErrUnsupportedKey) ||
		errors.Is(err, model.ErrUnknownCollection) ||
		errors.Is(err, model.ErrExists)
}
