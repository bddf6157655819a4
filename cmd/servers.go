package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/remote"
)

var serversAll bool

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List running editor servers",
	Long: `List editor servers visible to the resolved binary. Only servers started
by vimpilot are shown unless --all is given.`,
	Args: cobra.NoArgs,
	RunE: runServers,
}

func init() {
	serversCmd.Flags().BoolVarP(&serversAll, "all", "a", false, "include servers not started by vimpilot")
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, _ []string) error {
	resolver := cfg.ServerOptions(nil, commandFactory).Resolver
	bin, err := resolver.Resolve(cmd.Context(), cfg.Binary)
	if err != nil {
		return err
	}

	names, err := remote.ListServers(cmd.Context(), bin.Path, commandFactory)
	if err != nil {
		return err
	}

	prefix := strings.ToUpper(cfg.ServerPrefix) + "_"
	for _, name := range names {
		if serversAll || strings.HasPrefix(strings.ToUpper(name), prefix) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	}
	return nil
}
