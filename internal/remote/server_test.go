package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/vimpilot/internal/pubsub"
	"github.com/zjrosen/vimpilot/internal/testutil"
)

func newTestServer(t *testing.T, f *testutil.FakeVim, opts Options) *Server {
	t.Helper()
	opts.Binary = f.Path
	opts.CommandFactory = f.CommandFactory()
	if opts.Registry == nil {
		opts.Registry = NewRegistry("TEST")
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestNew_IncompatibleBinary(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim", testutil.WithoutServerSupport())

	_, err := New(context.Background(), Options{Binary: f.Path, CommandFactory: f.CommandFactory()})
	require.ErrorIs(t, err, ErrIncompatibleBinary)
}

func TestNew_DefaultsToEmptyConfig(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})

	empty, err := EmptyScript()
	require.NoError(t, err)
	require.Equal(t, []string{"--servername", s.Name(), "--nofork", "-u", empty, "-U", empty}, s.Args())
}

func TestNew_ArgsWithoutNoFork(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim", testutil.WithoutNoFork())
	s := newTestServer(t, f, Options{Vimrc: "/tmp/a.vim", Gvimrc: "/tmp/b.vim"})

	require.Equal(t, []string{"--servername", s.Name(), "-u", "/tmp/a.vim", "-U", "/tmp/b.vim"}, s.Args())
}

func TestNew_OnlyVimrcGiven(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{Vimrc: "/tmp/a.vim"})

	empty, err := EmptyScript()
	require.NoError(t, err)
	require.Equal(t, "/tmp/a.vim", s.Vimrc())
	require.Equal(t, empty, s.Gvimrc())
}

func TestNew_UniqueNames(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	reg := NewRegistry("TEST")
	a := newTestServer(t, f, Options{Registry: reg})
	b := newTestServer(t, f, Options{Registry: reg})

	require.NotEqual(t, a.Name(), b.Name())
}

func TestServer_StartAndStop(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.False(t, s.IsUp(ctx))
	require.False(t, s.Running())

	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsUp(ctx))
	require.True(t, s.Running())
	require.NotZero(t, s.PID())
	require.Equal(t, s.Args(), f.Argv(s.Name()))
	require.Equal(t, []string{s.Name()}, f.Servers())

	require.NoError(t, s.Stop(ctx))
	require.False(t, s.IsUp(ctx))
	require.False(t, s.Running())
	require.Zero(t, s.PID())
	require.Equal(t, []string{quitKeys}, f.Sent(s.Name()))
}

func TestServer_StartIsIdempotent(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	pid := s.PID()
	require.NoError(t, s.Start(ctx))
	require.Equal(t, pid, s.PID())
}

func TestServer_StopIsIdempotent(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, s.Stop(ctx), "stop before start")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	require.Len(t, f.Sent(s.Name()), 1)
}

func TestServer_RestartAfterStop(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, os.Remove(filepath.Join(f.State, "quit-"+s.Name())))

	require.NoError(t, s.Start(ctx))
	require.True(t, s.IsUp(ctx))
}

func TestServer_StartTimeout(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim", testutil.NeverReady())
	s := newTestServer(t, f, Options{StartTimeout: 200 * time.Millisecond})

	start := time.Now()
	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrStartTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, s.Running())
	require.NotEmpty(t, f.Argv(s.Name()), "process should have been spawned")
}

func TestServer_StartHonoursContext(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim", testutil.NeverReady())
	s := newTestServer(t, f, Options{StartTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := s.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, s.Running())
}

func TestServer_StopKillsWhenQuitFails(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Unlisting the server makes the quit request fail with E247.
	require.NoError(t, os.Remove(filepath.Join(f.State, "servers", s.Name())))

	require.NoError(t, s.Stop(ctx))
	require.False(t, s.Running())
	require.Nil(t, f.Sent(s.Name()))
}

func TestServer_FollowsForkedEditor(t *testing.T) {
	f := testutil.NewFakeVim(t, "gvim", testutil.WithoutNoFork(), testutil.Forking())
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.True(t, s.Forked())
	require.True(t, s.Running())
	require.Zero(t, s.PID())
	require.True(t, s.IsUp(ctx))
	require.NotContains(t, f.Argv(s.Name()), "--nofork")

	require.NoError(t, s.Start(ctx), "start while the forked editor runs")

	require.NoError(t, s.Stop(ctx))
	require.False(t, s.IsUp(ctx))
	require.False(t, s.Running())
	require.False(t, s.Forked())
	require.Equal(t, []string{quitKeys}, f.Sent(s.Name()))

	require.NoError(t, s.Stop(ctx))
	require.Len(t, f.Sent(s.Name()), 1)
}

func TestServer_StopReportsForkedEditorThatStaysUp(t *testing.T) {
	f := testutil.NewFakeVim(t, "gvim", testutil.WithoutNoFork(), testutil.Forking(), testutil.IgnoreQuit())
	s := newTestServer(t, f, Options{StopTimeout: 200 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	err := s.Stop(ctx)
	require.ErrorIs(t, err, ErrStillListed)
	require.True(t, s.IsUp(ctx))
	require.False(t, s.Running())

	f.Quit(s.Name())
	require.Eventually(t, func() bool { return len(f.Servers()) == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestServer_ExitDuringStartupWithNoFork(t *testing.T) {
	// --nofork is supported, so a parent that exits is a failed start.
	f := testutil.NewFakeVim(t, "vim", testutil.Forking())
	s := newTestServer(t, f, Options{StartTimeout: 5 * time.Second})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrStartTimeout)
	require.Contains(t, err.Error(), "exited during startup")
	require.False(t, s.Running())

	// the orphaned child still registers; shut it down
	require.Eventually(t, func() bool { return len(f.Servers()) == 1 }, 2*time.Second, 20*time.Millisecond)
	f.Quit(s.Name())
	require.Eventually(t, func() bool { return len(f.Servers()) == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestServer_PublishesLifecycleEvents(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	broker := pubsub.NewBroker[Event]()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := broker.Subscribe(ctx)

	s := newTestServer(t, f, Options{Events: broker})
	require.NoError(t, s.Start(ctx))
	pid := s.PID()
	require.NoError(t, s.Stop(ctx))

	started := receive(t, events)
	require.Equal(t, pubsub.StartedEvent, started.Type)
	require.Equal(t, s.Name(), started.Payload.Server)
	require.Equal(t, pid, started.Payload.PID)

	stopped := receive(t, events)
	require.Equal(t, pubsub.StoppedEvent, stopped.Type)
	require.Equal(t, s.Name(), stopped.Payload.Server)
	require.NoError(t, stopped.Payload.Err)
}

func receive(t *testing.T, ch <-chan pubsub.Event[Event]) pubsub.Event[Event] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return pubsub.Event[Event]{}
	}
}

func TestServer_RemoteExpr(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	got, err := s.RemoteExpr(ctx, "8 + 1")
	require.NoError(t, err)
	require.Equal(t, "9", got)

	got, err = s.RemoteExpr(ctx, "[]")
	require.NoError(t, err, "an empty result is not an error")
	require.Empty(t, got)

	_, err = s.RemoteExpr(ctx, "1 + []")
	require.ErrorIs(t, err, ErrInvalidExpression)
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	require.Equal(t, "1 + []", remoteErr.Input)
	require.Contains(t, remoteErr.Stderr, "E745")
}

func TestServer_RemoteSend(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.RemoteSend(ctx, "ihello<Esc>"))
	require.Equal(t, []string{"ihello<Esc>"}, f.Sent(s.Name()))

	// error output alone marks the call as failed
	err := s.RemoteSend(ctx, ":INVALID<CR>")
	require.ErrorIs(t, err, ErrInvalidKeystrokeInput)
}

func TestServer_RemoteCallsBeforeStart(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx := context.Background()

	require.ErrorIs(t, s.RemoteSend(ctx, "x"), ErrInvalidKeystrokeInput)
	_, err := s.RemoteExpr(ctx, "1")
	require.ErrorIs(t, err, ErrInvalidExpression)
}

func TestServer_RemoteCallCanceled(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.RemoteSend(ctx, "x"), context.Canceled)
	_, err := s.RemoteExpr(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestListServers(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	f.Register("ALPHA")
	f.Register("BETA")

	names, err := ListServers(context.Background(), f.Path, f.CommandFactory())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ALPHA", "BETA"}, names)
}

func TestServer_IsUpIgnoresCase(t *testing.T) {
	f := testutil.NewFakeVim(t, "vim")
	s := newTestServer(t, f, Options{Registry: NewRegistry("mixed")})
	f.Register(strings.ToLower(s.Name()))

	require.True(t, s.IsUp(context.Background()))
}
