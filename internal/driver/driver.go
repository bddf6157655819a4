// Package driver issues editor commands through a remote channel, adapting
// every ex-command and keystroke injection to the editor's current mode so
// callers never have to track it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/vimpilot/internal/keys"
	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/tracing"
)

const tracerName = "vimpilot/driver"

// DefaultOutputVariable holds captured ex-command output between Exec's
// dispatch and its read back. Exec also sets <var>_error and <var>_id.
const DefaultOutputVariable = "g:vimpilot_output"

// DefaultSettleTimeout bounds how long Exec waits for the editor to run the
// queued command.
const DefaultSettleTimeout = 5 * time.Second

const defaultSettleInterval = 10 * time.Millisecond

var (
	// ErrExecTimeout is returned when a command sent by Exec has not run
	// within the settle timeout.
	ErrExecTimeout = errors.New("ex command did not run in time")
	// ErrExecFailed wraps the exception raised by a command run through Exec.
	ErrExecFailed = errors.New("ex command failed")
)

// Remote is the channel into one editor server.
type Remote interface {
	RemoteSend(ctx context.Context, keys string) error
	RemoteExpr(ctx context.Context, expr string) (string, error)
}

// Lifecycle is implemented by remotes that own their editor process.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsUp(ctx context.Context) bool
}

// Driver sends mode-aware commands to an editor.
type Driver struct {
	remote    Remote
	outputVar string

	settleTimeout  time.Duration
	settleInterval time.Duration
	newID          func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithOutputVariable changes the variable Exec captures into.
func WithOutputVariable(name string) Option {
	return func(d *Driver) {
		if name != "" {
			d.outputVar = name
		}
	}
}

// WithSettleTimeout changes how long Exec waits for its command to run.
func WithSettleTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.settleTimeout = d
		}
	}
}

// New creates a Driver over remote.
func New(remote Remote, opts ...Option) *Driver {
	d := &Driver{
		remote:         remote,
		outputVar:      DefaultOutputVariable,
		settleTimeout:  DefaultSettleTimeout,
		settleInterval: defaultSettleInterval,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Remote returns the underlying channel.
func (d *Driver) Remote() Remote { return d.remote }

// Start starts the editor when the remote manages one.
func (d *Driver) Start(ctx context.Context) error {
	if lc, ok := d.remote.(Lifecycle); ok {
		return lc.Start(ctx)
	}
	return nil
}

// Stop stops the editor when the remote manages one.
func (d *Driver) Stop(ctx context.Context) error {
	if lc, ok := d.remote.(Lifecycle); ok {
		return lc.Stop(ctx)
	}
	return nil
}

// IsUp reports liveness. Remotes without a lifecycle are up if they answer
// a trivial expression.
func (d *Driver) IsUp(ctx context.Context) bool {
	if lc, ok := d.remote.(Lifecycle); ok {
		return lc.IsUp(ctx)
	}
	_, err := d.remote.RemoteExpr(ctx, "1")
	return err == nil
}

// Mode queries the current mode. It is never cached since any injected key
// may change it.
func (d *Driver) Mode(ctx context.Context) (Mode, error) {
	raw, err := d.remote.RemoteExpr(ctx, "mode()")
	if err != nil {
		return ModeUnknown, fmt.Errorf("querying mode: %w", err)
	}
	mode, err := ParseMode(raw)
	if err != nil {
		return ModeUnknown, err
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventModeResolved,
		trace.WithAttributes(attribute.String(tracing.AttrMode, mode.String())))
	return mode, nil
}

// exCommandKeys wraps cmd so it runs from mode and leaves the editor in
// that mode afterwards.
func exCommandKeys(mode Mode, cmd string) (string, error) {
	switch mode {
	case Normal:
		return ":" + cmd + "<CR><C-l>", nil
	case Insert, Replace:
		// <C-o> returns to the original mode after one command
		return "<C-o>:" + cmd + "<CR>", nil
	case Visual, VisualLine, VisualBlock:
		return "<Esc>:" + cmd + "<CR><C-l>gv", nil
	case Select, Command, Other:
		return `<C-\><C-n>:` + cmd + "<CR>", nil
	case ModeUnknown:
		return "", ErrUnknownMode
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownMode, mode)
	}
}

// RunExCommand executes cmd as an ex-command from whatever mode the editor
// is in.
func (d *Driver) RunExCommand(ctx context.Context, cmd string) (err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanRunExCommand,
		trace.WithAttributes(attribute.String(tracing.AttrCommand, cmd)))
	defer func() { tracing.End(span, err) }()

	mode, err := d.Mode(ctx)
	if err != nil {
		return err
	}
	return d.dispatch(ctx, mode, cmd)
}

func (d *Driver) dispatch(ctx context.Context, mode Mode, cmd string) error {
	seq, err := exCommandKeys(mode, cmd)
	if err != nil {
		return err
	}
	log.Debug(log.CatDriver, "ex command", "mode", mode, "cmd", cmd)
	return d.remote.RemoteSend(ctx, seq)
}

// TypeKeys types seq as if at the keyboard. Each call starts a new undo
// step.
func (d *Driver) TypeKeys(ctx context.Context, seq ...string) (err error) {
	encoded := keys.Encode(seq...)
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanTypeKeys,
		trace.WithAttributes(attribute.Int(tracing.AttrInputLen, len(encoded))))
	defer func() { tracing.End(span, err) }()

	mode, err := d.Mode(ctx)
	if err != nil {
		return err
	}
	log.Debug(log.CatKeys, "typing keys", "mode", mode, "keys", strings.Join(seq, ""), "encoded", encoded)

	if mode == Command {
		// An ex dispatch would abandon the pending command line, so go
		// through the expression register instead.
		return d.remote.RemoteSend(ctx, fmt.Sprintf(
			`<C-r>=execute('let &undolevels = &undolevels') . (feedkeys("%s", "t") ? "" : "")<CR>`, encoded))
	}
	return d.dispatch(ctx, mode, fmt.Sprintf(`let &undolevels = &undolevels | call feedkeys("%s", "t")`, encoded))
}

// Normal types seq from normal mode.
func (d *Driver) Normal(ctx context.Context, seq ...string) error {
	return d.TypeKeys(ctx, append([]string{"<Esc>"}, seq...)...)
}

// Insert inserts text before the cursor and returns to normal mode.
func (d *Driver) Insert(ctx context.Context, text ...string) error {
	return d.Normal(ctx, wrap("i", text, "<Esc>")...)
}

// Append inserts text after the cursor and returns to normal mode.
func (d *Driver) Append(ctx context.Context, text ...string) error {
	return d.Normal(ctx, wrap("a", text, "<Esc>")...)
}

func wrap(before string, middle []string, after string) []string {
	out := make([]string, 0, len(middle)+2)
	out = append(out, before)
	out = append(out, middle...)
	return append(out, after)
}

// ClearBuffer deletes every line of the current buffer.
func (d *Driver) ClearBuffer(ctx context.Context) error {
	return d.Normal(ctx, "ggdG")
}

// Undo undoes one step.
func (d *Driver) Undo(ctx context.Context) error {
	return d.Normal(ctx, "u")
}

// Redo redoes one step.
func (d *Driver) Redo(ctx context.Context) error {
	return d.Normal(ctx, "<C-r>")
}

// Exec runs cmd and returns what it printed, without the leading newline
// the editor puts before command output. cmd is taken literally; key
// notation such as <CR> is not expanded.
//
// Keys sent to the editor are only queued, while expressions are evaluated
// on arrival, so the capture is tagged with a fresh id and Exec polls for
// that id before reading the output back.
func (d *Driver) Exec(ctx context.Context, cmd string) (out string, err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanExec,
		trace.WithAttributes(attribute.String(tracing.AttrCommand, cmd)))
	defer func() { tracing.End(span, err) }()

	id := d.newID()
	capture := fmt.Sprintf(
		`try | let %[1]s = execute("%[2]s") | let %[1]s_error = "" | catch | let %[1]s_error = v:exception | finally | let %[1]s_id = "%[3]s" | endtry`,
		d.outputVar, keys.Literal(cmd), id)
	if err := d.RunExCommand(ctx, capture); err != nil {
		return "", err
	}
	if err := d.settle(ctx, id, cmd); err != nil {
		return "", err
	}
	span.AddEvent(tracing.EventExecSettled)

	exception, err := d.Eval(ctx, d.outputVar+"_error")
	if err != nil {
		return "", err
	}
	if exception != "" {
		return "", fmt.Errorf("%w: %s: %s", ErrExecFailed, cmd, exception)
	}
	out, err = d.Eval(ctx, d.outputVar)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, "\n"), nil
}

// settle polls until the capture tagged id has run.
func (d *Driver) settle(ctx context.Context, id, cmd string) error {
	marker := fmt.Sprintf(`exists("%[1]s_id") ? %[1]s_id : ""`, d.outputVar)

	deadline := time.NewTimer(d.settleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.settleInterval)
	defer ticker.Stop()
	for {
		got, err := d.remote.RemoteExpr(ctx, marker)
		if err != nil {
			return err
		}
		if got == id {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrExecTimeout, cmd)
		case <-ticker.C:
		}
	}
}

// SourceFile sources the Vim script at path.
func (d *Driver) SourceFile(ctx context.Context, path string) error {
	return d.RunExCommand(ctx, fmt.Sprintf(`execute "source " . fnameescape("%s")`, keys.Literal(path)))
}

// Eval evaluates expr and returns its string form.
func (d *Driver) Eval(ctx context.Context, expr string) (string, error) {
	return d.remote.RemoteExpr(ctx, expr)
}

// CurrentLine returns the text of the cursor line.
func (d *Driver) CurrentLine(ctx context.Context) (string, error) {
	return d.Eval(ctx, "getline('.')")
}

// Line returns line n (1-based) of the current buffer.
func (d *Driver) Line(ctx context.Context, n int) (string, error) {
	return d.Eval(ctx, fmt.Sprintf("getline(%d)", n))
}

// Lines returns every line of the current buffer.
func (d *Driver) Lines(ctx context.Context) ([]string, error) {
	out, err := d.Eval(ctx, `join(getline(1, '$'), "\n")`)
	if err != nil {
		return nil, err
	}
	return strings.Split(out, "\n"), nil
}
