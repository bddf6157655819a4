package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/config"
)

var probeSave bool

var probeCmd = &cobra.Command{
	Use:   "probe [binary]",
	Short: "Find an editor binary with client/server support",
	Long: `Check a binary, or the configured candidates in order, for client/server
support and print the one that would be used.

Examples:
  vimpilot probe
  vimpilot probe /opt/homebrew/bin/vim --save`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeSave, "save", false, "record the binary in the config file")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	explicit := cfg.Binary
	if len(args) == 1 {
		explicit = args[0]
	}

	resolver := cfg.ServerOptions(nil, commandFactory).Resolver
	bin, err := resolver.Resolve(cmd.Context(), explicit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s\tserver=%t nofork=%t\n", bin.Path, bin.Server, bin.NoFork)

	if probeSave {
		path := configPath()
		if err := config.SaveBinary(path, bin.Path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "saved binary to %s\n", path)
	}
	return nil
}
