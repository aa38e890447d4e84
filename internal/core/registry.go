package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry хранит handle под уникальными именами и освобождает их
// в порядке, обратном регистрации.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	order   []string
}

// NewRegistry создает пустой реестр.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register добавляет handle под именем name (пустое имя: имя плагина).
// Реестр становится владельцем handle.
func (r *Registry) Register(name string, h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle is nil: %w", errInvalidArguments)
	}
	if h.Released() {
		return fmt.Errorf("handle %s is released: %w", h.ID(), errInvalidArguments)
	}
	if name == "" {
		name = h.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[name]; exists {
		return fmt.Errorf("%s: %w", name, errPluginExists)
	}
	r.handles[name] = h
	r.order = append(r.order, name)
	return nil
}

// Get возвращает handle по имени.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// Execute вызывает плагин по имени.
func (r *Registry) Execute(ctx context.Context, name, input string) error {
	h, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, errUnknownPlugin)
	}
	return h.Execute(ctx, input)
}

// Names возвращает отсортированный список имен.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release удаляет handle из реестра и освобождает его.
func (r *Registry) Release(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if ok {
		delete(r.handles, name)
		r.order = removeName(r.order, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, errUnknownPlugin)
	}
	return h.Release(ctx)
}

// ReleaseAll освобождает все handle, последним зарегистрированный первым.
func (r *Registry) ReleaseAll(ctx context.Context) error {
	r.mu.Lock()
	order := r.order
	handles := r.handles
	r.order = nil
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := handles[order[i]].Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", order[i], err))
		}
	}
	return errors.Join(errs...)
}

func removeName(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
