package app

import (
	"context"
	"log/slog"

	"plugkit/internal/core"
	"plugkit/internal/storage"
	"plugkit/pkg/pluginapi"
)

// journal пишет события жизненного цикла в storage.Store.
type journal struct {
	store storage.Store
	log   *slog.Logger
}

func newJournal(st storage.Store, lg *slog.Logger) *journal {
	return &journal{store: st, log: lg}
}

func (j *journal) Observe(ctx context.Context, ev core.Event) {
	if err := j.store.SaveEvent(context.WithoutCancel(ctx), toRecord(ev)); err != nil {
		j.log.Warn("journal write failed", "op", string(ev.Op), "plugin", ev.Plugin, "err", err)
	}
}

func toRecord(ev core.Event) storage.LifecycleEvent {
	rec := storage.LifecycleEvent{
		Op:       string(ev.Op),
		Module:   ev.Module,
		Plugin:   ev.Plugin,
		HandleID: ev.HandleID,
		Status:   "ok",
		Duration: ev.Duration,
		TS:       ev.TS,
	}
	if ev.Err != nil {
		rec.Status = "error"
		rec.Message = ev.Err.Error()
		if k := pluginapi.KindOf(ev.Err); k != 0 {
			rec.ErrorKind = k.String()
		}
	}
	return rec
}
