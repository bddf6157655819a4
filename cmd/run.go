package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/driver"
	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/pubsub"
	"github.com/zjrosen/vimpilot/internal/remote"
	"github.com/zjrosen/vimpilot/internal/script"
	"github.com/zjrosen/vimpilot/internal/watcher"
)

var errScenariosFailed = errors.New("one or more scenarios failed")

var (
	runWatch   bool
	runNoColor bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run <scenario>...",
	Short: "Run scenario files against fresh editor instances",
	Long: `Run each scenario in its own headless editor and report the results.

A scenario is a YAML file with a list of steps:

  name: substitute
  timeout: 2s
  steps:
    - insert: "hello world"
    - ex: s/world/vim/
    - expect_line: hello vim
    - eval: "&modified"
      expect: "1"

The editor is started before the first step and stopped after the last.
The command exits non-zero when any scenario fails.

Examples:
  vimpilot run scenarios/*.yaml
  vimpilot run --watch scenarios/substitute.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScenarios,
}

func init() {
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "re-run when a scenario or a sourced script changes")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable coloured output")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print editor start and stop events")
	rootCmd.AddCommand(runCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runWatch {
		return watchScenarios(ctx, cmd, args)
	}
	return runOnce(ctx, cmd, args)
}

func runOnce(ctx context.Context, cmd *cobra.Command, paths []string) error {
	var events *pubsub.Broker[remote.Event]
	if runVerbose {
		events = pubsub.NewBroker[remote.Event]()
		evCtx, cancel := context.WithCancel(ctx)
		ch := events.Subscribe(evCtx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			pubsub.Forward(evCtx, ch, func(e pubsub.Event[remote.Event]) {
				printServerEvent(cmd.ErrOrStderr(), e)
			})
		}()
		defer func() {
			cancel()
			<-done
			events.Close()
		}()
	}

	registry := remote.NewRegistry(cfg.ServerPrefix)
	reports := make([]script.Report, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		reports = append(reports, runScenario(ctx, path, registry, events))
	}

	var styles *script.Styles
	if !runNoColor {
		s := script.DefaultStyles()
		styles = &s
	}
	if err := script.WriteReport(cmd.OutOrStdout(), reports, styles); err != nil {
		return err
	}

	for _, r := range reports {
		if !r.Passed() {
			return errScenariosFailed
		}
	}
	return ctx.Err()
}

func runScenario(ctx context.Context, path string, registry *remote.Registry, events *pubsub.Broker[remote.Event]) script.Report {
	sc, err := script.Load(path)
	if err != nil {
		return script.Report{Scenario: &script.Scenario{Name: path, Path: path}, Err: err}
	}

	opts := cfg.ServerOptions(registry, commandFactory)
	opts.Events = events
	srv, err := remote.New(ctx, opts)
	if err != nil {
		return script.Report{Scenario: sc, Err: err}
	}
	defer func() {
		// still stop the editor after an interrupt
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.StopTimeout+time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			log.ErrorErr(log.CatServer, "Failed to stop editor", err, "server", srv.Name())
		}
	}()

	log.Info(log.CatScript, "running scenario", "scenario", sc.Name, "server", srv.Name(), "binary", srv.Binary().Path)
	return script.NewRunner(driver.New(srv)).Run(ctx, sc)
}

func printServerEvent(w io.Writer, e pubsub.Event[remote.Event]) {
	ev := e.Payload
	switch e.Type {
	case pubsub.StartedEvent:
		_, _ = fmt.Fprintf(w, "started %s (pid %d, %s)\n", ev.Server, ev.PID, ev.Duration.Round(time.Millisecond))
	case pubsub.StoppedEvent:
		if ev.Err != nil {
			_, _ = fmt.Fprintf(w, "stopped %s: %v\n", ev.Server, ev.Err)
			return
		}
		_, _ = fmt.Fprintf(w, "stopped %s\n", ev.Server)
	}
}

func watchScenarios(ctx context.Context, cmd *cobra.Command, paths []string) error {
	w, err := watcher.New(watcher.DefaultConfig(watchedFiles(paths)...))
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	for {
		if err := runOnce(ctx, cmd, paths); err != nil && !errors.Is(err, errScenariosFailed) {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "watching for changes (Ctrl+C to stop)")

		select {
		case <-ctx.Done():
			return nil
		case changed := <-changes:
			log.Info(log.CatWatcher, "change detected, re-running", "files", changed)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "changed: %s\n", strings.Join(changed, ", "))
		}
	}
}

// watchedFiles returns the scenario files plus every script they source.
func watchedFiles(paths []string) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, path := range paths {
		add(path)
		sc, err := script.Load(path)
		if err != nil {
			continue
		}
		for _, step := range sc.Steps {
			if step.Action != script.ActionSource {
				continue
			}
			src := step.Arg
			if !filepath.IsAbs(src) {
				src = filepath.Join(sc.Dir(), src)
			}
			add(src)
		}
	}
	return files
}
