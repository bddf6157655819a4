// Package testutil provides a scripted stand-in for a client/server capable
// editor binary. It answers --help, --serverlist, --remote-send and
// --remote-expr from a state directory so the process lifecycle can be
// exercised without a real editor or display.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// StateEnv names the environment variable that points the script at its
// state directory.
const StateEnv = "FAKE_VIM_STATE"

const fakeVimScript = `#!/bin/sh
state="${FAKE_VIM_STATE:?FAKE_VIM_STATE not set}"
PATH="$PATH:/bin:/usr/bin"
export PATH

case "$1" in
--help)
	if [ -f "$state/help-exit" ]; then exit "$(cat "$state/help-exit")"; fi
	cat "$state/help"
	exit 0
	;;
--serverlist)
	cat "$state"/servers/* 2>/dev/null
	exit 0
	;;
--servername)
	name="$2"
	shift 2
	case "$1" in
	--remote-send)
		if [ ! -f "$state/servers/$name" ]; then
			echo "E247: no registered server named \"$name\": Send failed." >&2
			exit 1
		fi
		printf '%s\n' "$2" >> "$state/sent-$name"
		case "$2" in
		*qall!*) [ -f "$state/ignore-quit" ] || touch "$state/quit-$name" ;;
		*'_id = "'*)
			# applied on the next id read, like queued typeahead
			printf '%s\n' "$2" | sed -n 's/.*_id = "\([^"]*\)".*/\1/p' > "$state/pending-id-$name"
			;;
		*INVALID*) echo "E15: Invalid expression" >&2 ;;
		esac
		exit 0
		;;
	--remote-expr)
		if [ ! -f "$state/servers/$name" ]; then
			echo "E247: no registered server named \"$name\": Send expression failed." >&2
			exit 1
		fi
		printf '%s\n' "$2" >> "$state/expr-$name"
		case "$2" in
		"8 + 1") echo 9 ;;
		mode\(*)
			if [ -f "$state/mode" ]; then cat "$state/mode"; else echo n; fi
			;;
		"[]") echo ;;
		exists\(*)
			applied=""
			if [ -f "$state/exec-id-$name" ]; then applied="$(cat "$state/exec-id-$name")"; fi
			if [ -f "$state/pending-id-$name" ]; then mv "$state/pending-id-$name" "$state/exec-id-$name"; fi
			echo "$applied"
			;;
		*_error)
			if [ -f "$state/exec-error" ]; then cat "$state/exec-error"; else echo; fi
			;;
		g:vimpilot_output)
			if [ -f "$state/exec-output" ]; then printf '\n%s\n' "$(cat "$state/exec-output")"; else echo; fi
			;;
		"1 + []"|*INVALID*)
			echo "E745: Using a List as a Number" >&2
			exit 1
			;;
		*) printf '%s\n' "$2" ;;
		esac
		exit 0
		;;
	esac

	printf '%s\n' --servername "$name" "$@" > "$state/argv-$name"
	serve() {
		if [ ! -f "$state/never-ready" ]; then
			echo "$name" > "$state/servers/$name"
		fi
		while [ ! -f "$state/quit-$name" ]; do sleep 0.05; done
		rm -f "$state/servers/$name"
	}
	if [ -f "$state/fork" ]; then
		# like a GUI editor without --nofork: the parent exits and a child
		# registers the name a little later
		( sleep 0.2; serve ) </dev/null >/dev/null 2>&1 &
		exit 0
	fi
	serve
	exit 0
	;;
esac

echo "fake vim: unsupported arguments: $*" >&2
exit 2
`

const (
	helpServer = "   --servername <name>\tSend to/become the Vim server <name>\n"
	helpNoFork = "   --nofork\t\tForeground: Don't fork when starting GUI\n"
	helpCommon = "VIM - Vi IMproved 9.1\n\nUsage: vim [arguments] [file ..]\n\n" +
		"   -u <vimrc>\t\tUse <vimrc> instead of any .vimrc\n" +
		"   -U <gvimrc>\t\tUse <gvimrc> instead of any .gvimrc\n"
)

// FakeVim is a fake editor binary plus the state directory it reads and
// writes.
type FakeVim struct {
	t     *testing.T
	Path  string
	State string
}

type fakeVimConfig struct {
	server     bool
	noFork     bool
	neverReady bool
	forking    bool
	ignoreQuit bool
	helpExit   string
}

// FakeVimOption configures NewFakeVim.
type FakeVimOption func(*fakeVimConfig)

// WithoutServerSupport omits --servername from the help text.
func WithoutServerSupport() FakeVimOption {
	return func(c *fakeVimConfig) { c.server = false }
}

// WithoutNoFork omits --nofork from the help text.
func WithoutNoFork() FakeVimOption {
	return func(c *fakeVimConfig) { c.noFork = false }
}

// NeverReady keeps spawned servers out of the server list.
func NeverReady() FakeVimOption {
	return func(c *fakeVimConfig) { c.neverReady = true }
}

// Forking makes spawned servers fork: the started process exits at once and
// a background child registers the name shortly after.
func Forking() FakeVimOption {
	return func(c *fakeVimConfig) { c.forking = true }
}

// IgnoreQuit makes servers stay up when asked to quit.
func IgnoreQuit() FakeVimOption {
	return func(c *fakeVimConfig) { c.ignoreQuit = true }
}

// FailingHelp makes --help exit with code and print nothing.
func FailingHelp(code string) FakeVimOption {
	return func(c *fakeVimConfig) { c.helpExit = code }
}

// NewFakeVim writes the script into a temp dir. Pass Path as the binary and
// CommandFactory as the factory of the code under test.
func NewFakeVim(t *testing.T, name string, opts ...FakeVimOption) *FakeVim {
	t.Helper()

	cfg := fakeVimConfig{server: true, noFork: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(filepath.Join(state, "servers"), 0o755))

	help := helpCommon
	if cfg.server {
		help += helpServer
	}
	if cfg.noFork {
		help += helpNoFork
	}
	require.NoError(t, os.WriteFile(filepath.Join(state, "help"), []byte(help), 0o644))
	if cfg.neverReady {
		require.NoError(t, os.WriteFile(filepath.Join(state, "never-ready"), nil, 0o644))
	}
	if cfg.forking {
		require.NoError(t, os.WriteFile(filepath.Join(state, "fork"), nil, 0o644))
	}
	if cfg.ignoreQuit {
		require.NoError(t, os.WriteFile(filepath.Join(state, "ignore-quit"), nil, 0o644))
	}
	if cfg.helpExit != "" {
		require.NoError(t, os.WriteFile(filepath.Join(state, "help-exit"), []byte(cfg.helpExit), 0o644))
	}

	path := filepath.Join(dir, "bin", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(fakeVimScript), 0o755)) // #nosec G306 -- must be executable

	return &FakeVim{t: t, Path: path, State: state}
}

// BinDir returns the directory holding the script, for PATH lookups.
func (f *FakeVim) BinDir() string {
	return filepath.Dir(f.Path)
}

// CommandFactory runs the script through /bin/sh with the state directory
// in its environment. Going through sh avoids exec'ing a file this process
// just wrote, which can fail with ETXTBSY under parallel forks.
func (f *FakeVim) CommandFactory() func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "/bin/sh", append([]string{name}, args...)...)
		cmd.Env = append(os.Environ(), StateEnv+"="+f.State)
		return cmd
	}
}

// SetMode sets the value returned for mode() expressions.
func (f *FakeVim) SetMode(mode string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.State, "mode"), []byte(mode+"\n"), 0o644))
}

// SetExecOutput sets what the editor reports for captured command output.
func (f *FakeVim) SetExecOutput(out string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.State, "exec-output"), []byte(out), 0o644))
}

// SetExecError makes captured commands report msg as their exception.
func (f *FakeVim) SetExecError(msg string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.State, "exec-error"), []byte(msg+"\n"), 0o644))
}

// Sent returns every --remote-send payload delivered to server, in order.
func (f *FakeVim) Sent(server string) []string {
	return f.lines("sent-" + server)
}

// Exprs returns every --remote-expr expression evaluated by server, in order.
func (f *FakeVim) Exprs(server string) []string {
	return f.lines("expr-" + server)
}

// Argv returns the arguments the server named server was started with.
func (f *FakeVim) Argv(server string) []string {
	return f.lines("argv-" + server)
}

// Servers returns the currently registered server names, sorted.
func (f *FakeVim) Servers() []string {
	entries, err := os.ReadDir(filepath.Join(f.State, "servers"))
	require.NoError(f.t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Quit makes server exit as if it had received the quit keys.
func (f *FakeVim) Quit(server string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.State, "quit-"+server), nil, 0o644))
}

// Register lists server without spawning anything, as if another editor
// instance owned the name.
func (f *FakeVim) Register(server string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.State, "servers", server), []byte(server+"\n"), 0o644))
}

func (f *FakeVim) lines(file string) []string {
	data, err := os.ReadFile(filepath.Join(f.State, file))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(f.t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}
