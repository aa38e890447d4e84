package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"plugkit/internal/app"
	"plugkit/internal/config"
	"plugkit/internal/core"
	"plugkit/internal/storage"
	"plugkit/pkg/logger"
	"plugkit/pkg/pluginapi"
)

type rootFlags struct {
	config   string
	logLevel string
}

// New создает корневую CLI-команду. opts передаются каждому app.New.
func New(version string, opts ...app.Option) *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "plugkit",
		Short:         "Host для плагинов plugkit",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path to YAML config")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error (default from config)")

	build := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load(flags.config)
		if err != nil {
			return nil, err
		}
		level := flags.logLevel
		if level == "" {
			level = cfg.Host.LogLevel
		}
		lg := logger.New(level, cmd.ErrOrStderr())
		return app.New(cfg, lg, opts...)
	}

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newInspectCmd(build))
	root.AddCommand(newRunCmd(build))
	root.AddCommand(newExecCmd(build))
	root.AddCommand(newJournalCmd(build))
	root.AddCommand(newWatchCmd(build))
	return root
}

type builder func(cmd *cobra.Command) (*app.App, error)

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (plugin api %s)\n", version, pluginapi.APIVersion)
		},
	}
}

type inspectResult struct {
	pluginapi.Info
	Module string `json:"module"`
	Handle string `json:"handle"`
}

func newInspectCmd(build builder) *cobra.Command {
	var process bool
	cmd := &cobra.Command{
		Use:   "inspect <module>",
		Short: "Загрузить плагин, показать его описание и выгрузить",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer closeApp(ctx, a)

			h, err := open(ctx, a, args[0], process, nil)
			if err != nil {
				return err
			}
			res := inspectResult{Info: h.Info(), Module: args[0], Handle: h.ID()}
			if err := h.Release(ctx); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "treat <module> as a plugin binary")
	return cmd
}

func newRunCmd(build builder) *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "run <module> [input...]",
		Short: "Выполнить входы на плагине из .so модуля",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInputs(cmd, build, args[0], false, args[1:], showMetrics)
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print runtime metrics after the run")
	return cmd
}

func newExecCmd(build builder) *cobra.Command {
	var (
		showMetrics bool
		pluginArgs  []string
	)
	cmd := &cobra.Command{
		Use:   "exec <binary> [input...]",
		Short: "Выполнить входы на плагине в дочернем процессе",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInputs(cmd, build, args[0], true, args[1:], showMetrics, pluginArgs...)
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print runtime metrics after the run")
	cmd.Flags().StringSliceVar(&pluginArgs, "arg", nil, "argument passed to the plugin binary (repeatable)")
	return cmd
}

func runInputs(cmd *cobra.Command, build builder, target string, process bool, inputs []string, showMetrics bool, pluginArgs ...string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer closeApp(ctx, a)

	h, err := open(ctx, a, target, process, pluginArgs)
	if err != nil {
		return err
	}
	runErr := a.RunOnce(ctx, h, inputs)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d executed\n", h.Name(), h.Version(), h.Executes())
	if showMetrics {
		if err := a.Metrics.WriteText(cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return runErr
}

func open(ctx context.Context, a *app.App, target string, process bool, args []string) (*core.Handle, error) {
	if process {
		return a.StartProcess(ctx, target, args...)
	}
	return a.OpenModule(ctx, target)
}

type journalRow struct {
	TS       time.Time `json:"ts"`
	Op       string    `json:"op"`
	Module   string    `json:"module,omitempty"`
	Plugin   string    `json:"plugin,omitempty"`
	Handle   string    `json:"handle,omitempty"`
	Status   string    `json:"status"`
	Kind     string    `json:"error_kind,omitempty"`
	Message  string    `json:"message,omitempty"`
	Duration string    `json:"duration"`
}

func newJournalCmd(build builder) *cobra.Command {
	var (
		q     storage.EventQuery
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Показать журнал жизненного цикла плагинов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer closeApp(ctx, a)

			if a.Store == nil {
				return pluginapi.ConfigurationError("journal.enabled", "journal is disabled")
			}
			if since > 0 {
				q.From = time.Now().UTC().Add(-since)
			}
			events, err := a.Store.QueryEvents(ctx, q)
			if err != nil {
				return err
			}
			rows := make([]journalRow, 0, len(events))
			for _, ev := range events {
				rows = append(rows, journalRow{
					TS:       ev.TS,
					Op:       ev.Op,
					Module:   ev.Module,
					Plugin:   ev.Plugin,
					Handle:   ev.HandleID,
					Status:   ev.Status,
					Kind:     ev.ErrorKind,
					Message:  ev.Message,
					Duration: ev.Duration.String(),
				})
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&q.Plugin, "plugin", "", "filter by plugin name")
	cmd.Flags().StringVar(&q.Op, "op", "", "filter by operation (open, create, execute, release, close)")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	return cmd
}

func newWatchCmd(build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Загрузить плагины из конфига и выполнять watch.jobs до остановки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer closeApp(ctx, a)

			if err := a.Start(ctx); err != nil {
				return err
			}
			sched, err := a.Watch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watch stopped: %d runs, %d failed\n", sched.Runs(), sched.Failed())
			return nil
		},
	}
}

func closeApp(ctx context.Context, a *app.App) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.Log.Error("shutdown failed", "err", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
