// Команда plugkit-gen пишет plugin_entry_gen.go для типа с директивой
// //plugkit:entry. Обычно вызывается через go:generate:
//
//	//go:generate go run plugkit/cmd/plugkit-gen
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plugkit/internal/entrygen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		check bool
		out   string
	)
	cmd := &cobra.Command{
		Use:           "plugkit-gen [dir]",
		Short:         "Сгенерировать граничные символы плагина",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if check {
				t, err := entrygen.Check(dir, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s is up to date for %s\n", dir, out, t.Type)
				return nil
			}
			t, err := entrygen.Generate(dir, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: wrote %s for %s\n", dir, out, t.Type)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "fail if the generated file is stale")
	cmd.Flags().StringVarP(&out, "output", "o", entrygen.OutputFile, "output file name")
	return cmd
}
