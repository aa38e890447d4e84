package storage

import (
	"context"
	"time"
)

// LifecycleEvent запись журнала жизненного цикла плагина.
type LifecycleEvent struct {
	Op        string
	Module    string
	Plugin    string
	HandleID  string
	Status    string
	ErrorKind string
	Message   string
	Duration  time.Duration
	TS        time.Time
}

// EventQuery задает фильтры выборки журнала.
type EventQuery struct {
	From   time.Time
	To     time.Time
	Plugin string
	Op     string
	Limit  int
}

// Store описывает операции журнала.
type Store interface {
	SaveEvent(ctx context.Context, ev LifecycleEvent) error
	QueryEvents(ctx context.Context, q EventQuery) ([]LifecycleEvent, error)
	Close() error
}
