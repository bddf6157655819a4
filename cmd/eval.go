package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/driver"
	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/remote"
)

var evalEx bool

var evalCmd = &cobra.Command{
	Use:   "eval <expr>...",
	Short: "Evaluate expressions in a fresh editor",
	Long: `Start a headless editor, evaluate each expression in order and print the
results one per line. With --ex each argument is run as an ex command and
its output is printed instead.

Examples:
  vimpilot eval "8 + 1" "has('clientserver')"
  vimpilot eval --ex "version"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().BoolVar(&evalEx, "ex", false, "run arguments as ex commands and print their output")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	srv, err := remote.New(ctx, cfg.ServerOptions(remote.NewRegistry(cfg.ServerPrefix), commandFactory))
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
			log.ErrorErr(log.CatServer, "Failed to stop editor", err, "server", srv.Name())
		}
	}()

	d := driver.New(srv)
	for _, arg := range args {
		var out string
		if evalEx {
			out, err = d.Exec(ctx, arg)
		} else {
			out, err = d.Eval(ctx, arg)
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return nil
}
