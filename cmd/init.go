package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/config"
)

var (
	initGlobal bool
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a commented default config to .vimpilot/config.yaml, or to
~/.config/vimpilot/config.yaml with --global. --config picks any other path.`,
	Args: cobra.NoArgs,
	Annotations: map[string]string{
		skipConfig: "true",
	},
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initGlobal, "global", "g", false, "write the user config instead of the project config")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := filepath.Join(".vimpilot", "config.yaml")
	switch {
	case cfgFile != "":
		path = cfgFile
	case initGlobal:
		path = config.DefaultConfigPath()
		if path == "" {
			return fmt.Errorf("cannot determine home directory")
		}
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
