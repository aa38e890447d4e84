package app

import (
	"context"
	"fmt"
	"path/filepath"
	"plugin"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugkit/internal/config"
	"plugkit/internal/core"
	"plugkit/internal/storage"
	"plugkit/pkg/logger"
	"plugkit/pkg/pluginapi"
)

var counterUnloads atomic.Int32

type counterPlugin struct{ n int }

func (c *counterPlugin) Load() error   { return nil }
func (c *counterPlugin) Unload() error { counterUnloads.Add(1); return nil }

func (c *counterPlugin) Name() string        { return "counter" }
func (c *counterPlugin) Version() string     { return "1.0.0" }
func (c *counterPlugin) Description() string { return "counts calls" }

func (c *counterPlugin) Execute(ctx context.Context, input string) error {
	switch input {
	case "":
		return pluginapi.ExecutionError("counter", "empty input")
	case "bad-config":
		return pluginapi.ConfigurationError("counter.step", "missing")
	case "slow":
		time.Sleep(200 * time.Millisecond)
	}
	c.n++
	return nil
}

type symbols map[string]plugin.Symbol

func (s symbols) Lookup(name string) (plugin.Symbol, error) {
	sym, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", name)
	}
	return sym, nil
}

func opener(path string) (core.SymbolTable, error) {
	if path == "missing.so" {
		return nil, fmt.Errorf("plugin.Open(%q): no such file", path)
	}
	return symbols{
		pluginapi.CreateSymbol: func() (pluginapi.Plugin, error) { return pluginapi.Load[counterPlugin]() },
		pluginapi.UnloadSymbol: func(p pluginapi.Plugin) error { return pluginapi.Unload[counterPlugin](p) },
	}, nil
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, logger.Discard(), WithOpener(opener))
	require.NoError(t, err)
	return a
}

func TestStartExecuteClose(t *testing.T) {
	ctx := context.Background()
	before := counterUnloads.Load()
	a := newTestApp(t, func(c *config.Config) {
		c.Modules = []config.Module{{Path: "a.so", Name: "first"}, {Path: "b.so", Name: "second"}}
	})

	require.NoError(t, a.Start(ctx))
	assert.Equal(t, []string{"first", "second"}, a.Registry.Names())
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Metrics.LiveHandles))

	require.NoError(t, a.Execute(ctx, "first", "tick"))
	err := a.Execute(ctx, "second", "")
	assert.EqualError(t, err, "Execution error in counter: empty input")
	assert.ErrorIs(t, a.Execute(ctx, "third", "tick"), errNotStarted)

	events, err := a.Store.QueryEvents(ctx, storage.EventQuery{Op: "execute"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[0].Status)
	assert.Equal(t, "execution", events[0].ErrorKind)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, before+2, counterUnloads.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(a.Metrics.LiveHandles))
}

func TestStartFailureReleasesLoaded(t *testing.T) {
	ctx := context.Background()
	before := counterUnloads.Load()
	a := newTestApp(t, func(c *config.Config) {
		c.Modules = []config.Module{{Path: "a.so"}, {Path: "missing.so"}}
	})

	err := a.Start(ctx)
	require.ErrorIs(t, err, pluginapi.ErrLoad)
	assert.Contains(t, err.Error(), "missing.so")
	assert.Empty(t, a.Registry.Names())
	assert.Equal(t, before+1, counterUnloads.Load())
	require.NoError(t, a.Close(ctx))
}

func TestStartDuplicateNames(t *testing.T) {
	ctx := context.Background()
	before := counterUnloads.Load()
	a := newTestApp(t, func(c *config.Config) {
		c.Modules = []config.Module{{Path: "a.so"}, {Path: "b.so"}}
	})

	err := a.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, before+2, counterUnloads.Load())
	require.NoError(t, a.Close(ctx))
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, func(c *config.Config) { c.Host.ExecuteTimeoutMS = 50 })
	defer func() { require.NoError(t, a.Close(ctx)) }()

	h, err := a.OpenModule(ctx, "a.so")
	require.NoError(t, err)
	err = a.RunOnce(ctx, h, []string{"one", "", "two", "bad-config", "three"})
	require.Error(t, err)
	assert.ErrorIs(t, err, pluginapi.ErrExecution)
	assert.ErrorIs(t, err, pluginapi.ErrConfiguration)
	assert.Equal(t, 4, h.Executes())
	assert.True(t, h.Released())

	h, err = a.OpenModule(ctx, "a.so")
	require.NoError(t, err)
	err = a.RunOnce(ctx, h, []string{"slow"})
	assert.ErrorIs(t, err, pluginapi.ErrResource)
	assert.Contains(t, err.Error(), "timeout")

	released, err := a.Store.QueryEvents(ctx, storage.EventQuery{Op: "release"})
	require.NoError(t, err)
	assert.Len(t, released, 2)
}

func TestJournalRecord(t *testing.T) {
	rec := toRecord(core.Event{Op: core.OpCreate, Module: "x.so", Err: fmt.Errorf("wrapped: %w", pluginapi.LoadError("x.so", "bad"))})
	assert.Equal(t, "error", rec.Status)
	assert.Equal(t, "load", rec.ErrorKind)
	assert.Equal(t, "wrapped: Load error in x.so: bad", rec.Message)

	rec = toRecord(core.Event{Op: core.OpExecute, Err: fmt.Errorf("plain")})
	assert.Empty(t, rec.ErrorKind)
}

func TestAllowlistFromConfig(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, func(c *config.Config) {
		c.Host.Allow = []string{"echo"}
		c.Modules = []config.Module{{Path: "a.so"}}
	})
	err := a.Start(ctx)
	require.ErrorIs(t, err, pluginapi.ErrLoad)
	assert.Contains(t, err.Error(), "not in the allowlist")
	require.NoError(t, a.Close(ctx))
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, func(c *config.Config) {
		c.Modules = []config.Module{{Path: "a.so"}}
		c.Watch.IntervalMS = 10
		c.Watch.Jobs = []config.WatchJob{{Plugin: "counter", Input: "tick"}}
	})
	require.NoError(t, a.Start(ctx))
	defer func() { require.NoError(t, a.Close(ctx)) }()

	wctx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	sched, err := a.Watch(wctx)
	require.NoError(t, err)
	assert.Positive(t, sched.Runs())
	assert.Zero(t, sched.Failed())

	h, ok := a.Registry.Get("counter")
	require.True(t, ok)
	assert.Equal(t, int(sched.Runs()), h.Executes())
}

func TestWatchRequiresLoadedPlugins(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, func(c *config.Config) {
		c.Watch.Jobs = []config.WatchJob{{Plugin: "sysinfo", Input: "check"}}
	})
	defer func() { require.NoError(t, a.Close(ctx)) }()

	_, err := a.Watch(ctx)
	require.ErrorIs(t, err, pluginapi.ErrConfiguration)
	assert.Contains(t, err.Error(), "plugin sysinfo is not loaded")

	a.Config.Watch.Jobs = nil
	_, err = a.Watch(ctx)
	assert.ErrorIs(t, err, pluginapi.ErrConfiguration)
}
