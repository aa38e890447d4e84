package core

import (
	"fmt"
	"strings"

	"plugkit/pkg/pluginapi"
)

// Allowlist ограничивает имена плагинов, которые host готов принять.
// Пустой Allowlist разрешает все.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist создает allowlist из имен; пустые строки пропускаются.
func NewAllowlist(names []string) *Allowlist {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return &Allowlist{names: set}
}

// Allow возвращает LoadError, если плагин с таким именем не разрешен.
func (a *Allowlist) Allow(info pluginapi.Info) error {
	if a == nil || len(a.names) == 0 {
		return nil
	}
	if _, ok := a.names[info.Name]; !ok {
		return pluginapi.LoadError(info.Name, fmt.Sprintf("plugin %s %s is not in the allowlist", info.Name, info.Version))
	}
	return nil
}

// WithAllowlist отклоняет плагины вне allowlist при Create и Adopt.
func WithAllowlist(a *Allowlist) Option {
	return func(o *options) { o.allow = a }
}
