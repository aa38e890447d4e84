package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"plugkit/internal/config"
	"plugkit/internal/core"
	"plugkit/internal/metrics"
	"plugkit/internal/storage"
	"plugkit/internal/storage/sqlite"
	"plugkit/pkg/pluginapi"
	"plugkit/pkg/pluginrpc"
)

var errNotStarted = errors.New("no plugin loaded under this name")

// App агрегирует зависимости host.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	Registry *core.Registry
	Metrics  *metrics.Metrics
	Store    storage.Store

	opener core.Opener

	mu   sync.Mutex
	libs []*core.Library
}

// Option настраивает App.
type Option func(*App)

// WithOpener подменяет загрузку .so модулей.
func WithOpener(op core.Opener) Option {
	return func(a *App) { a.opener = op }
}

// WithStore задает журнал вместо sqlite из конфига.
func WithStore(st storage.Store) Option {
	return func(a *App) { a.Store = st }
}

// New строит приложение: реестр, метрики и журнал.
func New(cfg config.Config, lg *slog.Logger, opts ...Option) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      lg,
		Registry: core.NewRegistry(),
		Metrics:  metrics.New(nil),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Store == nil && cfg.Journal.Enabled {
		st, err := sqlite.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.Store = st
	}
	return a, nil
}

func (a *App) coreOptions() []core.Option {
	opts := []core.Option{
		core.WithLogger(a.Log),
		core.WithObserver(a.Metrics),
		core.WithOpener(a.opener),
		core.WithAllowlist(core.NewAllowlist(a.Config.Host.Allow)),
	}
	if a.Store != nil {
		opts = append(opts, core.WithObserver(newJournal(a.Store, a.Log)))
	}
	return opts
}

// OpenModule загружает .so и создает из него handle.
func (a *App) OpenModule(ctx context.Context, path string) (*core.Handle, error) {
	lib, err := core.Open(ctx, path, a.coreOptions()...)
	if err != nil {
		return nil, err
	}
	h, err := lib.Create(ctx)
	if err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}
	a.mu.Lock()
	a.libs = append(a.libs, lib)
	a.mu.Unlock()
	return h, nil
}

// StartProcess запускает бинарник плагина и оборачивает его в handle.
func (a *App) StartProcess(ctx context.Context, path string, args ...string) (*core.Handle, error) {
	c, err := pluginrpc.Start(ctx, path, args...)
	if err != nil {
		a.Metrics.Observe(ctx, core.Event{Op: core.OpOpen, Module: path, Err: err})
		return nil, err
	}
	return core.Adopt(ctx, c, pluginrpc.Release, a.coreOptions()...)
}

type loaded struct {
	name   string
	handle *core.Handle
}

// Start параллельно загружает модули и процессы из конфига и регистрирует
// их в порядке конфига. При ошибке уже созданные handle освобождаются.
func (a *App) Start(ctx context.Context) error {
	total := len(a.Config.Modules) + len(a.Config.Processes)
	results := make([]loaded, total)

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range a.Config.Modules {
		i, m := i, m
		g.Go(func() error {
			h, err := a.OpenModule(gctx, m.Path)
			if err != nil {
				return fmt.Errorf("module %s: %w", m.Path, err)
			}
			results[i] = loaded{name: m.Name, handle: h}
			return nil
		})
	}
	for i, p := range a.Config.Processes {
		i, p := len(a.Config.Modules)+i, p
		g.Go(func() error {
			h, err := a.StartProcess(gctx, p.Path, p.Args...)
			if err != nil {
				return fmt.Errorf("process %s: %w", p.Path, err)
			}
			results[i] = loaded{name: p.Name, handle: h}
			return nil
		})
	}
	err := g.Wait()

	for _, r := range results {
		if r.handle == nil {
			continue
		}
		if err != nil {
			_ = r.handle.Release(ctx)
			continue
		}
		if regErr := a.Registry.Register(r.name, r.handle); regErr != nil {
			_ = r.handle.Release(ctx)
			err = fmt.Errorf("register %s: %w", r.handle.Name(), regErr)
		}
	}
	if err != nil {
		_ = a.Registry.ReleaseAll(ctx)
		a.closeLibraries(ctx)
		return err
	}
	a.Log.Info("plugins loaded", "count", total, "names", a.Registry.Names())
	return nil
}

// Execute вызывает плагин по имени с таймаутом из конфига.
func (a *App) Execute(ctx context.Context, name, input string) error {
	h, ok := a.Registry.Get(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, errNotStarted)
	}
	return h.ExecuteTimeout(ctx, input, a.Config.ExecuteTimeout())
}

// Watch вызывает задачи watch.jobs с интервалом watch.interval_ms до
// отмены ctx. Плагины задач должны быть уже загружены через Start.
func (a *App) Watch(ctx context.Context) (*core.Scheduler, error) {
	if len(a.Config.Watch.Jobs) == 0 {
		return nil, pluginapi.ConfigurationError("watch.jobs", "no jobs configured")
	}
	sched := core.NewScheduler(a.Config.WatchInterval(), a.Log)
	for _, j := range a.Config.Watch.Jobs {
		if _, ok := a.Registry.Get(j.Plugin); !ok {
			return nil, pluginapi.ConfigurationError("watch.jobs", fmt.Sprintf("plugin %s is not loaded", j.Plugin))
		}
		j := j
		sched.Add(j.Plugin, func(ctx context.Context) error {
			return a.Execute(ctx, j.Plugin, j.Input)
		})
	}
	a.Log.Info("watch started", "jobs", len(a.Config.Watch.Jobs), "interval", a.Config.WatchInterval().String())
	sched.Start(ctx)
	return sched, nil
}

// RunOnce выполняет inputs на handle и освобождает его.
func (a *App) RunOnce(ctx context.Context, h *core.Handle, inputs []string) error {
	var errs []error
	for _, in := range inputs {
		if err := h.ExecuteTimeout(ctx, in, a.Config.ExecuteTimeout()); err != nil {
			errs = append(errs, err)
			if !pluginapi.KindOf(err).Retryable() {
				break
			}
		}
	}
	if err := h.Release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeLibraries(ctx context.Context) []error {
	a.mu.Lock()
	libs := a.libs
	a.libs = nil
	a.mu.Unlock()

	var errs []error
	for i := len(libs) - 1; i >= 0; i-- {
		if err := libs[i].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close освобождает все handle, закрывает модули и журнал.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Registry.ReleaseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeLibraries(ctx)...)
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
