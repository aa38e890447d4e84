package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"plugkit/pkg/pluginapi"
)

// Handle экземпляр плагина во владении host.
//
// Handle передается только по указателю и не копируется. Вызовы Execute
// сериализуются, Release выполняет teardown модуля ровно один раз; после
// него Execute возвращает ExecutionError.
type Handle struct {
	_ noCopy

	id      string
	info    pluginapi.Info
	library *Library
	opts    options

	mu       sync.Mutex
	plugin   pluginapi.Plugin
	release  pluginapi.UnloadFunc
	released bool
	executes int
}

// noCopy ловится проверкой copylocks в go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func newHandle(p pluginapi.Plugin, release pluginapi.UnloadFunc, lib *Library, o options) *Handle {
	return &Handle{
		id:      uuid.NewString(),
		info:    pluginapi.Describe(p),
		library: lib,
		opts:    o,
		plugin:  p,
		release: release,
	}
}

// Adopt оборачивает плагин, созданный вне Library (например дочерний процесс).
// release вызывается ровно один раз при Release. Владение p переходит к handle.
func Adopt(ctx context.Context, p pluginapi.Plugin, release pluginapi.UnloadFunc, opts ...Option) (*Handle, error) {
	if p == nil || release == nil {
		return nil, fmt.Errorf("adopt: %w", errInvalidArguments)
	}
	o := buildOptions(opts)
	if err := admit(p, o); err != nil {
		_ = callUnload("adopt", release, p)
		return nil, err
	}
	h := newHandle(p, release, nil, o)
	o.emit(ctx, Event{Op: OpCreate, Plugin: h.info.Name, HandleID: h.id})
	return h, nil
}

// ID уникальный идентификатор handle.
func (h *Handle) ID() string { return h.id }

// Info описание плагина, снятое при создании.
func (h *Handle) Info() pluginapi.Info { return h.info }

func (h *Handle) Name() string        { return h.info.Name }
func (h *Handle) Version() string     { return h.info.Version }
func (h *Handle) Description() string { return h.info.Description }

func (h *Handle) module() string {
	if h.library == nil {
		return ""
	}
	return h.library.path
}

// Executes число завершенных вызовов Execute.
func (h *Handle) Executes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executes
}

// Released сообщает, освобожден ли handle.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Execute вызывает Plugin.Execute. Ошибки вне таксономии переводятся в
// ExecutionError с именем плагина.
func (h *Handle) Execute(ctx context.Context, input string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return pluginapi.ExecutionError(h.info.Name, "handle released")
	}
	start := time.Now()
	err := h.invoke(ctx, input)
	h.executes++
	h.opts.emit(ctx, Event{
		Op:       OpExecute,
		Module:   h.module(),
		Plugin:   h.info.Name,
		HandleID: h.id,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		h.opts.log.Warn("plugin execute failed", "plugin", h.info.Name, "handle", h.id, "err", err)
	}
	return err
}

func (h *Handle) invoke(ctx context.Context, input string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pluginapi.ExecutionError(h.info.Name, fmt.Sprintf("panic: %v", r))
		}
	}()
	return pluginapi.Translate(pluginapi.KindExecution, h.info.Name, h.plugin.Execute(ctx, input))
}

// ExecuteTimeout выполняет Execute в отдельной горутине. Если вызов не
// завершился за d, возвращается ResourceError "timeout"; горутина держит
// handle до возврата плагина, так что Release выполнится после него.
func (h *Handle) ExecuteTimeout(ctx context.Context, input string, d time.Duration) error {
	if d <= 0 {
		return h.Execute(ctx, input)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Execute(ctx, input) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pluginapi.ResourceError("timeout", fmt.Sprintf("%s did not finish within %s", h.info.Name, d))
		}
		return pluginapi.ResourceError("context", fmt.Sprintf("%s: %v", h.info.Name, ctx.Err()))
	}
}

// Release выполняет teardown модуля. Повторный вызов ничего не делает.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	start := time.Now()
	err := callUnload(h.info.Name, h.release, h.plugin)
	h.plugin = nil
	h.release = nil
	if h.library != nil {
		h.library.forget(h.id)
	}
	h.opts.emit(ctx, Event{
		Op:       OpRelease,
		Module:   h.module(),
		Plugin:   h.info.Name,
		HandleID: h.id,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		h.opts.log.Error("plugin release failed", "plugin", h.info.Name, "handle", h.id, "err", err)
		return err
	}
	h.opts.log.Info("plugin released", "plugin", h.info.Name, "handle", h.id, "executes", h.executes)
	return nil
}
