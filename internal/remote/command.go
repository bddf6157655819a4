package remote

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CommandFactoryFunc creates an exec.Cmd. Tests substitute it to point the
// package at fake editor binaries or to inject environment.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, name string, args ...string) *exec.Cmd {
	// #nosec G204 -- the binary is resolved and probed before use; args are argv, never shell text
	return exec.CommandContext(ctx, name, args...)
}

// output is the captured result of one short-lived editor invocation.
type output struct {
	stdout string
	stderr string
	err    error
}

// run executes name with args and captures both streams. Arguments travel as
// argv elements, so no shell ever re-parses them.
func run(ctx context.Context, factory CommandFactoryFunc, name string, args ...string) output {
	cmd := factory(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return output{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// ShellQuote renders argv as a POSIX shell command line that reproduces the
// exact arguments. Used for logs and dry runs.
func ShellQuote(argv ...string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}
