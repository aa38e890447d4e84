package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"plugkit/pkg/pluginapi"
)

// Module модуль Go plugin (.so) для загрузки при старте.
type Module struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

// Process бинарник плагина, запускаемый дочерним процессом.
type Process struct {
	Path string   `yaml:"path"`
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// WatchJob периодический вызов плагина.
type WatchJob struct {
	Plugin string `yaml:"plugin"`
	Input  string `yaml:"input"`
}

// Config описывает параметры host.
type Config struct {
	Host struct {
		LogLevel         string   `yaml:"log_level"`
		ExecuteTimeoutMS int      `yaml:"execute_timeout_ms"`
		Allow            []string `yaml:"allow"`
	} `yaml:"host"`
	Modules   []Module  `yaml:"modules"`
	Processes []Process `yaml:"processes"`
	Journal   struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`
	Watch struct {
		IntervalMS int        `yaml:"interval_ms"`
		Jobs       []WatchJob `yaml:"jobs"`
	} `yaml:"watch"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	var cfg Config
	cfg.Host.LogLevel = "info"
	cfg.Host.ExecuteTimeoutMS = 5000
	cfg.Journal.Enabled = false
	cfg.Journal.Path = "plugkit.db"
	cfg.Watch.IntervalMS = 60000
	return cfg
}

// Load читает конфиг из файла YAML, поверх значений по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- путь к конфигу задается оператором.
	if err != nil {
		return cfg, pluginapi.ConfigurationError(path, err.Error())
	}
	if len(data) == 0 {
		return cfg, pluginapi.ConfigurationError(path, "config file is empty")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, pluginapi.ConfigurationError(path, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate проверяет значения; каждая ошибка называет ключ.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Host.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, pluginapi.ConfigurationError("host.log_level", fmt.Sprintf("unknown level %q", c.Host.LogLevel)))
	}
	if c.Host.ExecuteTimeoutMS < 0 {
		errs = append(errs, pluginapi.ConfigurationError("host.execute_timeout_ms", "must not be negative"))
	}
	for i, m := range c.Modules {
		if strings.TrimSpace(m.Path) == "" {
			errs = append(errs, pluginapi.ConfigurationError(fmt.Sprintf("modules[%d].path", i), "must not be empty"))
		}
	}
	for i, p := range c.Processes {
		if strings.TrimSpace(p.Path) == "" {
			errs = append(errs, pluginapi.ConfigurationError(fmt.Sprintf("processes[%d].path", i), "must not be empty"))
		}
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		errs = append(errs, pluginapi.ConfigurationError("journal.path", "must not be empty when journal is enabled"))
	}
	if c.Watch.IntervalMS <= 0 {
		errs = append(errs, pluginapi.ConfigurationError("watch.interval_ms", "must be positive"))
	}
	for i, j := range c.Watch.Jobs {
		if strings.TrimSpace(j.Plugin) == "" {
			errs = append(errs, pluginapi.ConfigurationError(fmt.Sprintf("watch.jobs[%d].plugin", i), "must not be empty"))
		}
	}
	return errors.Join(errs...)
}

// WatchInterval интервал периодических вызовов.
func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalMS) * time.Millisecond
}

// ExecuteTimeout таймаут одного Execute; 0 отключает таймаут.
func (c Config) ExecuteTimeout() time.Duration {
	return time.Duration(c.Host.ExecuteTimeoutMS) * time.Millisecond
}
