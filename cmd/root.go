// Package cmd implements the vimpilot command line.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/vimpilot/internal/config"
	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/pubsub"
	"github.com/zjrosen/vimpilot/internal/remote"
	"github.com/zjrosen/vimpilot/internal/tracing"
)

// skipConfig marks commands that run without loading a config file.
const skipConfig = "skip-config"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	logFile   string
	binary    string

	cfg            config.Config
	usedConfigPath string

	// commandFactory builds every editor invocation. Nil runs the editor
	// directly; tests swap in a fake.
	commandFactory remote.CommandFactoryFunc

	cleanups []func()
)

var rootCmd = &cobra.Command{
	Use:   "vimpilot",
	Short: "Drive headless Vim instances from scripts",
	Long: `vimpilot spawns Vim in client/server mode and drives it through
--remote-send and --remote-expr, so editor behaviour can be scripted and
asserted from YAML scenarios.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	// Assigned here rather than in the literal: setup reads rootCmd, which
	// would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = setup
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .vimpilot/config.yaml or ~/.config/vimpilot/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"append logs to this file (overrides log.path)")
	rootCmd.PersistentFlags().StringVarP(&binary, "binary", "b", "",
		"editor binary with client/server support (overrides binary)")
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] != "" {
		return setupLogging(cmd, config.Defaults().Log)
	}

	v := viper.New()
	_ = v.BindPFlag("binary", rootCmd.PersistentFlags().Lookup("binary"))

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	usedConfigPath = v.ConfigFileUsed()

	if err := setupLogging(cmd, cfg.Log); err != nil {
		return err
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatTrace, "Failed to shut down tracing", err)
		}
	})
	return nil
}

func setupLogging(cmd *cobra.Command, lc config.LogConfig) error {
	path := lc.Path
	if logFile != "" {
		path = logFile
	}

	switch {
	case path != "":
		closeLog, err := log.Init(path)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		cleanups = append(cleanups, closeLog)
		if debugFlag {
			// mirror the file to stderr
			ctx, cancel := context.WithCancel(context.Background())
			ch := log.Subscribe(ctx)
			stderr := cmd.ErrOrStderr()
			done := make(chan struct{})
			go func() {
				defer close(done)
				pubsub.Forward(ctx, ch, func(e pubsub.Event[string]) {
					_, _ = fmt.Fprint(stderr, e.Payload)
				})
			}()
			cleanups = append(cleanups, func() { cancel(); <-done })
		}
	case debugFlag:
		cleanups = append(cleanups, log.InitWriter(cmd.ErrOrStderr()))
	default:
		return nil
	}

	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	if debugFlag {
		level = log.LevelDebug
	}
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "vimpilot starting", "version", version, "command", cmd.Name(), "config", usedConfigPath)
	return nil
}

// configPath is the file settings are saved to.
func configPath() string {
	switch {
	case cfgFile != "":
		return cfgFile
	case usedConfigPath != "":
		return usedConfigPath
	default:
		return filepath.Clean(config.DefaultConfigPath())
	}
}

func teardown() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

// Execute runs the root command
func Execute() error {
	defer teardown()
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
