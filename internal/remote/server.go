package remote

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/pubsub"
	"github.com/zjrosen/vimpilot/internal/tracing"
)

const (
	// DefaultStartTimeout bounds how long Start waits for the server name to
	// appear in the server list.
	DefaultStartTimeout = 10 * time.Second
	// DefaultPollInterval is the delay between readiness checks.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultStopTimeout bounds how long Stop waits for a graceful exit
	// before killing the process.
	DefaultStopTimeout = 5 * time.Second

	// quitKeys leaves whatever mode the editor is in and quits without saving.
	quitKeys = `<C-\><C-n>:qall!<CR>`
)

const tracerName = "vimpilot/remote"

// Options configures a Server. The zero value is usable.
type Options struct {
	// Binary is an explicit executable name or path. Empty means probe the
	// resolver's candidates.
	Binary string
	// Vimrc and Gvimrc are passed via -u and -U. Empty means an empty script.
	Vimrc  string
	Gvimrc string

	Registry     *Registry
	StartTimeout time.Duration
	PollInterval time.Duration
	StopTimeout  time.Duration

	// CommandFactory builds every editor invocation, including probes when
	// Resolver is nil.
	CommandFactory CommandFactoryFunc
	Resolver       *Resolver

	// Events receives StartedEvent and StoppedEvent notifications.
	Events *pubsub.Broker[Event]
}

// Server is one headless editor instance addressed by its server name.
type Server struct {
	name   string
	bin    Binary
	vimrc  string
	gvimrc string

	startTimeout time.Duration
	pollInterval time.Duration
	stopTimeout  time.Duration

	factory CommandFactoryFunc
	events  *pubsub.Broker[Event]

	mu        sync.Mutex
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdin     io.WriteCloser
	done      chan struct{}
	waitErr   error
	startedAt time.Time
	// forked is set when the spawned process exited cleanly during startup
	// and the editor registered from a child it forked. Only the server
	// list can tell whether that editor is still alive.
	forked bool
}

// New resolves a compatible binary and reserves a server name. Nothing is
// spawned until Start.
func New(ctx context.Context, opts Options) (*Server, error) {
	factory := opts.CommandFactory
	if factory == nil {
		factory = defaultCommandFactory
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(WithResolverCommandFactory(factory))
	}
	bin, err := resolver.Resolve(ctx, opts.Binary)
	if err != nil {
		return nil, err
	}

	vimrc, gvimrc := opts.Vimrc, opts.Gvimrc
	if vimrc == "" || gvimrc == "" {
		empty, err := EmptyScript()
		if err != nil {
			return nil, err
		}
		if vimrc == "" {
			vimrc = empty
		}
		if gvimrc == "" {
			gvimrc = empty
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry
	}

	s := &Server{
		name:         registry.Next(),
		bin:          bin,
		vimrc:        vimrc,
		gvimrc:       gvimrc,
		startTimeout: durationOr(opts.StartTimeout, DefaultStartTimeout),
		pollInterval: durationOr(opts.PollInterval, DefaultPollInterval),
		stopTimeout:  durationOr(opts.StopTimeout, DefaultStopTimeout),
		factory:      factory,
		events:       opts.Events,
	}
	log.Debug(log.CatServer, "server configured", "name", s.name, "binary", bin.Path, "vimrc", vimrc)
	return s, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Name returns the server name used for every remote call.
func (s *Server) Name() string { return s.name }

// Binary returns the resolved executable.
func (s *Server) Binary() Binary { return s.bin }

// Vimrc returns the script passed with -u.
func (s *Server) Vimrc() string { return s.vimrc }

// Gvimrc returns the script passed with -U.
func (s *Server) Gvimrc() string { return s.gvimrc }

// Args returns the argument vector used to spawn the editor.
func (s *Server) Args() []string {
	args := []string{"--servername", s.name}
	if s.bin.NoFork {
		args = append(args, "--nofork")
	}
	return append(args, "-u", s.vimrc, "-U", s.gvimrc)
}

// PID returns the process id of the running editor, or 0. A forked editor
// has no pid known to the server.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pidLocked()
}

func (s *Server) pidLocked() int {
	if s.cmd == nil || s.cmd.Process == nil || s.forked {
		return 0
	}
	return s.cmd.Process.Pid
}

// Forked reports whether the running editor detached from the spawned
// process.
func (s *Server) Forked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forked
}

// Running reports whether Start has spawned an editor that has not exited.
// A forked editor counts as running until Stop.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Server) runningLocked() bool {
	if s.cmd == nil {
		return false
	}
	if s.forked {
		return true
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start spawns the editor and blocks until its name is listed by the server
// list, the start timeout elapses, or ctx ends. Calling Start on a running
// server does nothing.
func (s *Server) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return nil
	}
	if s.cmd != nil {
		// previous process died on its own
		s.resetLocked()
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanServerStart,
		trace.WithAttributes(
			attribute.String(tracing.AttrServerName, s.name),
			attribute.String(tracing.AttrBinary, s.bin.Path),
		))
	defer func() { tracing.End(span, err) }()

	// The process outlives the Start call, so only ctx's values carry over.
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	args := s.Args()
	cmd := s.factory(procCtx, s.bin.Path, args...)
	detach(cmd)
	cmd.Stdout = nil
	cmd.Stderr = nil

	// Vim wants a terminal or at least an open stdin; a pipe we never write
	// to keeps it idle without a pty.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("creating stdin pipe: %w", err)
	}

	log.Debug(log.CatServer, "spawning editor", "name", s.name, "cmd", ShellQuote(append([]string{s.bin.Path}, args...)...))
	if err := cmd.Start(); err != nil {
		cancel()
		log.ErrorErr(log.CatServer, "failed to spawn editor", err, "name", s.name)
		return fmt.Errorf("starting %s: %w", s.bin.Path, err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.stdin = stdin
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	span.SetAttributes(attribute.Int(tracing.AttrPID, cmd.Process.Pid))

	done := s.done
	go func() {
		err := cmd.Wait()
		s.waitErr = err
		close(done)
	}()

	if err := s.waitReady(ctx, span); err != nil {
		s.cancel()
		<-done
		log.Warn(log.CatServer, "editor failed to become ready", "name", s.name, "error", err)
		s.resetLocked()
		return err
	}

	log.Info(log.CatServer, "editor ready", "name", s.name, "pid", s.pidLocked(), "forked", s.forked,
		"elapsed", time.Since(s.startedAt).Round(time.Millisecond))
	if s.events != nil {
		s.events.Publish(pubsub.StartedEvent, Event{
			Server:   s.name,
			Binary:   s.bin.Path,
			PID:      s.pidLocked(),
			Duration: time.Since(s.startedAt),
		})
	}
	return nil
}

func (s *Server) waitReady(ctx context.Context, span trace.Span) error {
	deadline := time.NewTimer(s.startTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	done := s.done
	for attempt := 1; ; attempt++ {
		span.AddEvent(tracing.EventPollAttempt, trace.WithAttributes(attribute.Int("attempt", attempt)))
		if s.IsUp(ctx) {
			span.AddEvent(tracing.EventServerReady)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not listed after %s", ErrStartTimeout, s.name, s.startTimeout)
		case <-done:
			// Without --nofork a GUI editor forks and the spawned process
			// exits before the child registers its name.
			if s.bin.NoFork || s.waitErr != nil {
				return fmt.Errorf("%w: %s exited during startup: %v", ErrStartTimeout, s.name, s.waitErr)
			}
			log.Debug(log.CatServer, "editor forked, waiting for its name", "name", s.name)
			span.AddEvent(tracing.EventServerForked)
			s.forked = true
			done = nil
		case <-ticker.C:
		}
	}
}

// Stop asks the editor to quit and waits for the process to exit, killing
// it if the quit request fails or the stop timeout (or ctx) expires.
// A forked editor cannot be killed, so Stop waits for its name to leave the
// server list and returns ErrStillListed if it does not.
// Stopping a server that is not running does nothing.
func (s *Server) Stop(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}

	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanServerStop,
		trace.WithAttributes(
			attribute.String(tracing.AttrServerName, s.name),
			attribute.Bool(tracing.AttrForked, s.forked),
		))
	defer func() { tracing.End(span, err) }()

	forced := false
	var exitErr error
	switch {
	case s.forked:
		err = s.stopForkedLocked(ctx)
		exitErr = err
	case s.runningLocked():
		if forced = s.stopChildLocked(ctx); !forced {
			exitErr = s.waitErr
		}
	default:
		// exited on its own
		exitErr = s.waitErr
	}

	log.Info(log.CatServer, "editor stopped", "name", s.name, "forked", s.forked, "forced", forced)
	if s.events != nil {
		s.events.Publish(pubsub.StoppedEvent, Event{
			Server:   s.name,
			Binary:   s.bin.Path,
			PID:      s.pidLocked(),
			Err:      exitErr,
			Duration: time.Since(s.startedAt),
		})
	}
	s.resetLocked()
	return err
}

// stopChildLocked quits the spawned process, killing it when needed. It
// reports whether the process was killed.
func (s *Server) stopChildLocked(ctx context.Context) bool {
	forced := false
	if sendErr := s.RemoteSend(ctx, quitKeys); sendErr != nil {
		log.Warn(log.CatServer, "quit request failed, killing", "name", s.name, "error", sendErr)
		s.cancel()
		forced = true
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		log.Warn(log.CatServer, "editor did not exit in time, killing", "name", s.name)
		s.cancel()
		forced = true
		<-s.done
	case <-ctx.Done():
		s.cancel()
		forced = true
		<-s.done
	}
	return forced
}

// stopForkedLocked quits a forked editor and polls the server list until
// its name is gone.
func (s *Server) stopForkedLocked(ctx context.Context) error {
	if sendErr := s.RemoteSend(ctx, quitKeys); sendErr != nil {
		log.Warn(log.CatServer, "quit request to forked editor failed", "name", s.name, "error", sendErr)
	}

	deadline := time.NewTimer(s.stopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if !s.IsUp(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			log.Warn(log.CatServer, "forked editor did not quit", "name", s.name)
			return fmt.Errorf("%w: %s after %s", ErrStillListed, s.name, s.stopTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Server) resetLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.cmd = nil
	s.cancel = nil
	s.stdin = nil
	s.done = nil
	s.waitErr = nil
	s.forked = false
}

// IsUp reports whether the server name is currently listed. Any failure to
// query the list counts as not up.
func (s *Server) IsUp(ctx context.Context) bool {
	names, err := ListServers(ctx, s.bin.Path, s.factory)
	if err != nil {
		log.Debug(log.CatServer, "server list unavailable", "error", err)
		return false
	}
	for _, n := range names {
		if strings.EqualFold(n, s.name) {
			return true
		}
	}
	return false
}

// ListServers returns the names printed by `<binary> --serverlist`.
func ListServers(ctx context.Context, binary string, factory CommandFactoryFunc) ([]string, error) {
	if factory == nil {
		factory = defaultCommandFactory
	}
	out := run(ctx, factory, binary, "--serverlist")
	if out.err != nil {
		return nil, fmt.Errorf("listing servers: %w", out.err)
	}
	var names []string
	for _, line := range strings.Split(out.stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// RemoteSend delivers raw key notation to the server. Any error output
// from the client is reported as ErrInvalidKeystrokeInput.
func (s *Server) RemoteSend(ctx context.Context, keys string) (err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanRemoteSend,
		trace.WithAttributes(
			attribute.String(tracing.AttrServerName, s.name),
			attribute.Int(tracing.AttrInputLen, len(keys)),
		))
	defer func() { tracing.End(span, err) }()

	out := run(ctx, s.factory, s.bin.Path, "--servername", s.name, "--remote-send", keys)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if out.err != nil || strings.TrimSpace(out.stderr) != "" {
		log.Debug(log.CatRemote, "remote-send failed", "name", s.name, "keys", keys, "stderr", out.stderr)
		return &RemoteError{
			Op:     "remote-send",
			Server: s.name,
			Input:  keys,
			Stderr: out.stderr,
			Kind:   ErrInvalidKeystrokeInput,
			Err:    out.err,
		}
	}
	log.Debug(log.CatRemote, "remote-send", "name", s.name, "keys", keys)
	return nil
}

// RemoteExpr evaluates expr in the server and returns its string form with
// one trailing newline removed. An empty result is not an error; failures
// are detected from the client's error output and exit status.
func (s *Server) RemoteExpr(ctx context.Context, expr string) (result string, err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanRemoteExpr,
		trace.WithAttributes(
			attribute.String(tracing.AttrServerName, s.name),
			attribute.Int(tracing.AttrInputLen, len(expr)),
		))
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrResultLen, len(result)))
		tracing.End(span, err)
	}()

	out := run(ctx, s.factory, s.bin.Path, "--servername", s.name, "--remote-expr", expr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if out.err != nil || strings.TrimSpace(out.stderr) != "" {
		log.Debug(log.CatRemote, "remote-expr failed", "name", s.name, "expr", expr, "stderr", out.stderr)
		return "", &RemoteError{
			Op:     "remote-expr",
			Server: s.name,
			Input:  expr,
			Stderr: out.stderr,
			Kind:   ErrInvalidExpression,
			Err:    out.err,
		}
	}
	result = strings.TrimSuffix(out.stdout, "\n")
	log.Debug(log.CatRemote, "remote-expr", "name", s.name, "expr", expr, "result", result)
	return result, nil
}
