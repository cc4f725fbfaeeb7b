package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/validio/validio-go/pkg/api"
)

// Mutation operations reported to observers.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSkip   = "skip"
)

// MutationEvent describes one remote mutation attempted during Apply.
// Skipped deletes of cascaded children are reported with OpSkip.
type MutationEvent struct {
	Phase     string
	Kind      api.Kind
	Name      string
	ID        string
	Operation string
	Duration  time.Duration
	Err       error
}

// Observer receives mutation events. Implementations must not block.
type Observer interface {
	OnMutation(ctx context.Context, ev MutationEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev MutationEvent)

// OnMutation calls f.
func (f ObserverFunc) OnMutation(ctx context.Context, ev MutationEvent) { f(ctx, ev) }

type options struct {
	logger    zerolog.Logger
	observers []Observer
	// inferSchemas controls schema inference during Diff.
	inferSchemas bool
}

// Option configures Load, Diff and Apply.
type Option func(*options)

// WithLogger sets the logger. The global zerolog logger is used otherwise.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers an observer of remote mutations.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithoutSchemaInference defers all schema inference to Apply. Diff then
// issues no remote call besides the ones made by the caller.
func WithoutSchemaInference() Option {
	return func(o *options) { o.inferSchemas = false }
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:       log.Logger,
		inferSchemas: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) notify(ctx context.Context, ev MutationEvent) {
	for _, obs := range o.observers {
		obs.OnMutation(ctx, ev)
	}
}
