package core

import (
	"context"
	"fmt"
	"plugin"
	"sync"
	"time"

	"plugkit/pkg/pluginapi"
)

// SymbolTable открытый модуль; *plugin.Plugin ему удовлетворяет.
type SymbolTable interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// Opener открывает модуль по пути.
type Opener func(path string) (SymbolTable, error)

// OpenPlugin открывает Go plugin (.so).
func OpenPlugin(path string) (SymbolTable, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Library загруженный модуль и учет выданных из него handle.
//
// Go не умеет выгружать plugin из процесса, поэтому Close только
// запрещает новые handle; модуль остается в памяти до выхода.
type Library struct {
	path   string
	create pluginapi.CreateFunc
	unload pluginapi.UnloadFunc
	opts   options

	mu     sync.Mutex
	live   map[string]*Handle
	closed bool
}

// Open загружает модуль и разрешает символы CreatePlugin и UnloadPlugin.
func Open(ctx context.Context, path string, opts ...Option) (*Library, error) {
	o := buildOptions(opts)
	start := time.Now()
	lib, err := open(path, o)
	o.emit(ctx, Event{Op: OpOpen, Module: path, Err: err, Duration: time.Since(start)})
	if err != nil {
		o.log.Error("module open failed", "module", path, "err", err)
		return nil, err
	}
	o.log.Info("module opened", "module", path)
	return lib, nil
}

func open(path string, o options) (*Library, error) {
	if path == "" {
		return nil, pluginapi.LoadError("open", "module path is empty")
	}
	syms, err := o.opener(path)
	if err != nil {
		return nil, pluginapi.LoadError(path, err.Error())
	}
	create, unload, err := resolve(path, syms)
	if err != nil {
		return nil, err
	}
	return &Library{
		path:   path,
		create: create,
		unload: unload,
		opts:   o,
		live:   make(map[string]*Handle),
	}, nil
}

func resolve(path string, syms SymbolTable) (pluginapi.CreateFunc, pluginapi.UnloadFunc, error) {
	sym, err := syms.Lookup(pluginapi.CreateSymbol)
	if err != nil {
		return nil, nil, pluginapi.LoadError(path, fmt.Sprintf("lookup %s: %v", pluginapi.CreateSymbol, err))
	}
	create, ok := asCreate(sym)
	if !ok {
		return nil, nil, pluginapi.LoadError(path, fmt.Sprintf("symbol %s has type %T, want func() (pluginapi.Plugin, error)", pluginapi.CreateSymbol, sym))
	}

	sym, err = syms.Lookup(pluginapi.UnloadSymbol)
	if err != nil {
		return nil, nil, pluginapi.LoadError(path, fmt.Sprintf("lookup %s: %v", pluginapi.UnloadSymbol, err))
	}
	unload, ok := asUnload(sym)
	if !ok {
		return nil, nil, pluginapi.LoadError(path, fmt.Sprintf("symbol %s has type %T, want func(pluginapi.Plugin) error", pluginapi.UnloadSymbol, sym))
	}
	return create, unload, nil
}

// Функции из plugin.Lookup приходят как значения, переменные как указатели.
func asCreate(sym plugin.Symbol) (pluginapi.CreateFunc, bool) {
	switch fn := sym.(type) {
	case func() (pluginapi.Plugin, error):
		return fn, fn != nil
	case pluginapi.CreateFunc:
		return fn, fn != nil
	case *pluginapi.CreateFunc:
		if fn != nil && *fn != nil {
			return *fn, true
		}
	}
	return nil, false
}

func asUnload(sym plugin.Symbol) (pluginapi.UnloadFunc, bool) {
	switch fn := sym.(type) {
	case func(pluginapi.Plugin) error:
		return fn, fn != nil
	case pluginapi.UnloadFunc:
		return fn, fn != nil
	case *pluginapi.UnloadFunc:
		if fn != nil && *fn != nil {
			return *fn, true
		}
	}
	return nil, false
}

// Path возвращает путь модуля.
func (l *Library) Path() string { return l.path }

// Create вызывает CreatePlugin и возвращает handle во владение вызывающему.
func (l *Library) Create(ctx context.Context) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	if l.closed {
		err := pluginapi.ResourceError("module", fmt.Sprintf("%s is closed", l.path))
		l.opts.emit(ctx, Event{Op: OpCreate, Module: l.path, Err: err})
		return nil, err
	}

	p, err := callCreate(l.path, l.create)
	if err == nil {
		if idErr := admit(p, l.opts); idErr != nil {
			_ = callUnload(l.path, l.unload, p)
			err = idErr
		}
	}
	if err != nil {
		l.opts.emit(ctx, Event{Op: OpCreate, Module: l.path, Err: err, Duration: time.Since(start)})
		l.opts.log.Error("plugin create failed", "module", l.path, "err", err)
		return nil, err
	}

	h := newHandle(p, l.unload, l, l.opts)
	l.live[h.id] = h
	l.opts.emit(ctx, Event{Op: OpCreate, Module: l.path, Plugin: h.info.Name, HandleID: h.id, Duration: time.Since(start)})
	l.opts.log.Info("plugin created", "module", l.path, "plugin", h.info.Name, "handle", h.id)
	return h, nil
}

// Live возвращает число неосвобожденных handle.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Close запрещает новые handle. Ошибка, если живые handle еще есть.
func (l *Library) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if n := len(l.live); n > 0 {
		err := pluginapi.ResourceError("module", fmt.Sprintf("%s still has %d live handles", l.path, n))
		l.opts.emit(ctx, Event{Op: OpClose, Module: l.path, Err: err})
		return err
	}
	l.closed = true
	l.opts.emit(ctx, Event{Op: OpClose, Module: l.path})
	l.opts.log.Info("module closed", "module", l.path)
	return nil
}

// admit проверяет идентичность плагина и allowlist.
func admit(p pluginapi.Plugin, o options) error {
	if err := pluginapi.CheckIdentity(p); err != nil {
		return err
	}
	return o.allow.Allow(pluginapi.Describe(p))
}

func (l *Library) forget(id string) {
	l.mu.Lock()
	delete(l.live, id)
	l.mu.Unlock()
}

func callCreate(path string, create pluginapi.CreateFunc) (p pluginapi.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, pluginapi.LoadError(path, fmt.Sprintf("panic in %s: %v", pluginapi.CreateSymbol, r))
		}
	}()
	p, err = create()
	if err != nil {
		return nil, pluginapi.Translate(pluginapi.KindLoad, path, err)
	}
	if p == nil {
		return nil, pluginapi.LoadError(path, pluginapi.CreateSymbol+" returned nil plugin")
	}
	return p, nil
}

func callUnload(subject string, unload pluginapi.UnloadFunc, p pluginapi.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pluginapi.ResourceError(subject, fmt.Sprintf("panic in %s: %v", pluginapi.UnloadSymbol, r))
		}
	}()
	return pluginapi.Translate(pluginapi.KindResource, subject, unload(p))
}
