package core

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"plugkit/pkg/logger"
)

var (
	errPluginExists     = errors.New("plugin already registered")
	errUnknownPlugin    = errors.New("unknown plugin")
	errInvalidArguments = errors.New("invalid arguments")
)

// Op тип события жизненного цикла.
type Op string

const (
	OpOpen    Op = "open"
	OpCreate  Op = "create"
	OpExecute Op = "execute"
	OpRelease Op = "release"
	OpClose   Op = "close"
)

// Event описывает одно событие жизненного цикла модуля или handle.
type Event struct {
	Op       Op
	Module   string
	Plugin   string
	HandleID string
	Err      error
	Duration time.Duration
	TS       time.Time
}

// Observer получает события жизненного цикла. Вызывается синхронно.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc адаптер функции к Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Option настраивает Library и Handle.
type Option func(*options)

type options struct {
	log       *slog.Logger
	observers []Observer
	opener    Opener
	allow     *Allowlist
}

// WithLogger задает логгер.
func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.log = lg
		}
	}
}

// WithObserver добавляет наблюдателя событий.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithOpener подменяет plugin.Open.
func WithOpener(op Opener) Option {
	return func(o *options) {
		if op != nil {
			o.opener = op
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Discard(), opener: OpenPlugin}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) emit(ctx context.Context, ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	for _, obs := range o.observers {
		obs.Observe(ctx, ev)
	}
}
