// Package pluginapi описывает контракт между host-приложением и плагином:
// интерфейс Plugin, таксономию ошибок и точки входа CreatePlugin/UnloadPlugin,
// которые host находит по имени символа после plugin.Open.
package pluginapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// APIVersion версия контракта. Host и плагин совместимы при совпадении major.
const APIVersion = "1.0.0"

// Имена символов, которые host ищет в загруженном модуле.
const (
	CreateSymbol = "CreatePlugin"
	UnloadSymbol = "UnloadPlugin"
)

// Plugin определяет контракт экземпляра плагина.
//
// Name, Version и Description не имеют побочных эффектов и возвращают
// одинаковые непустые значения все время жизни экземпляра.
// Execute синхронен; контракт не гарантирует потокобезопасность, если плагин
// явно не заявляет обратное. Ошибка Execute равна nil или *Error.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Execute(ctx context.Context, input string) error
}

// CreateFunc сигнатура символа CreatePlugin.
type CreateFunc func() (Plugin, error)

// UnloadFunc сигнатура символа UnloadPlugin.
type UnloadFunc func(Plugin) error

// Info статическое описание плагина.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	APIVersion  string `json:"api_version" yaml:"api_version"`
}

// Describe собирает Info из accessor-методов плагина.
func Describe(p Plugin) Info {
	return Info{
		Name:        p.Name(),
		Version:     p.Version(),
		Description: p.Description(),
		APIVersion:  APIVersion,
	}
}

// CheckIdentity возвращает LoadError, если какой-либо accessor пуст.
func CheckIdentity(p Plugin) error {
	if p == nil {
		return LoadError("identity", "plugin is nil")
	}
	name := p.Name()
	if strings.TrimSpace(name) == "" {
		return LoadError("identity", "plugin name is empty")
	}
	if strings.TrimSpace(p.Version()) == "" {
		return LoadError(name, "plugin version is empty")
	}
	if strings.TrimSpace(p.Description()) == "" {
		return LoadError(name, "plugin description is empty")
	}
	return nil
}

// CompatibleAPI сравнивает major-версии контракта.
func CompatibleAPI(pluginAPI, hostAPI string) bool {
	pm, err := majorVersion(pluginAPI)
	if err != nil {
		return false
	}
	hm, err := majorVersion(hostAPI)
	if err != nil {
		return false
	}
	return pm == hm
}

func majorVersion(v string) (int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("parse major version of %q: %w", v, err)
	}
	return n, nil
}
