package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runFake(t *testing.T, f *FakeVim, args ...string) (string, string, error) {
	t.Helper()
	cmd := f.CommandFactory()(context.Background(), f.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func TestFakeVim_Help(t *testing.T) {
	f := NewFakeVim(t, "vim")
	out, _, err := runFake(t, f, "--help")
	require.NoError(t, err)
	require.Contains(t, out, "--servername")
	require.Contains(t, out, "--nofork")

	plain := NewFakeVim(t, "vim", WithoutServerSupport(), WithoutNoFork())
	out, _, err = runFake(t, plain, "--help")
	require.NoError(t, err)
	require.NotContains(t, out, "--servername")
	require.NotContains(t, out, "--nofork")
}

func TestFakeVim_FailingHelp(t *testing.T) {
	f := NewFakeVim(t, "vim", FailingHelp("3"))
	out, _, err := runFake(t, f, "--help")
	require.Error(t, err)
	require.Empty(t, out)
}

func TestFakeVim_RegisteredServerAnswers(t *testing.T) {
	f := NewFakeVim(t, "vim")
	f.Register("TEST_1")

	out, _, err := runFake(t, f, "--serverlist")
	require.NoError(t, err)
	require.Equal(t, "TEST_1\n", out)

	out, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-expr", "8 + 1")
	require.NoError(t, err)
	require.Equal(t, "9\n", out)

	f.SetMode("i")
	out, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-expr", "mode(1)")
	require.NoError(t, err)
	require.Equal(t, "i\n", out)

	_, stderr, err := runFake(t, f, "--servername", "TEST_1", "--remote-expr", "1 + []")
	require.Error(t, err)
	require.Contains(t, stderr, "E745")

	_, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-send", "ihello<Esc>")
	require.NoError(t, err)
	require.Equal(t, []string{"ihello<Esc>"}, f.Sent("TEST_1"))
	require.Equal(t, []string{"8 + 1", "mode(1)", "1 + []"}, f.Exprs("TEST_1"))
}

func TestFakeVim_UnknownServer(t *testing.T) {
	f := NewFakeVim(t, "vim")
	_, stderr, err := runFake(t, f, "--servername", "NOPE", "--remote-send", "x")
	require.Error(t, err)
	require.Contains(t, stderr, "E247")
	require.Nil(t, f.Sent("NOPE"))
}

func TestFakeVim_AnswersWithoutSystemDirsOnPath(t *testing.T) {
	f := NewFakeVim(t, "vim")
	t.Setenv("PATH", f.BinDir())

	out, _, err := runFake(t, f, "--help")
	require.NoError(t, err)
	require.Contains(t, out, "--servername")

	f.Register("TEST_1")
	out, _, err = runFake(t, f, "--serverlist")
	require.NoError(t, err)
	require.Equal(t, "TEST_1\n", out)
}

func TestFakeVim_CaptureIDAppliedOnNextRead(t *testing.T) {
	f := NewFakeVim(t, "vim")
	f.Register("TEST_1")
	f.SetExecOutput("hi")
	settled := `exists("g:vimpilot_output_id") ? g:vimpilot_output_id : ""`

	_, _, err := runFake(t, f, "--servername", "TEST_1", "--remote-send",
		`:try | let g:vimpilot_output = execute("echo 1") | finally | let g:vimpilot_output_id = "abc-1" | endtry<CR>`)
	require.NoError(t, err)

	out, _, err := runFake(t, f, "--servername", "TEST_1", "--remote-expr", settled)
	require.NoError(t, err)
	require.Equal(t, "\n", out, "first read sees the state before the command")

	out, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-expr", settled)
	require.NoError(t, err)
	require.Equal(t, "abc-1\n", out)

	out, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-expr", "g:vimpilot_output")
	require.NoError(t, err)
	require.Equal(t, "\nhi\n", out)

	out, _, err = runFake(t, f, "--servername", "TEST_1", "--remote-expr", "g:vimpilot_output_error")
	require.NoError(t, err)
	require.Equal(t, "\n", out)
}

func TestFakeVim_ForkingServerRegistersAfterParentExits(t *testing.T) {
	f := NewFakeVim(t, "gvim", Forking())

	_, _, err := runFake(t, f, "--servername", "FORKED_1")
	require.NoError(t, err, "parent exits at once")
	require.Eventually(t, func() bool { return len(f.Servers()) == 1 }, 2*time.Second, 20*time.Millisecond)

	f.Quit("FORKED_1")
	require.Eventually(t, func() bool { return len(f.Servers()) == 0 }, 2*time.Second, 20*time.Millisecond)
}
