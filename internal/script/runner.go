package script

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/vimpilot/internal/driver"
	"github.com/zjrosen/vimpilot/internal/log"
	"github.com/zjrosen/vimpilot/internal/tracing"
)

const tracerName = "vimpilot/script"

// DefaultPollInterval is the delay between expectation retries.
const DefaultPollInterval = 20 * time.Millisecond

// Editor is what a scenario drives. *driver.Driver implements it.
type Editor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsUp(ctx context.Context) bool
	Mode(ctx context.Context) (driver.Mode, error)

	Insert(ctx context.Context, text ...string) error
	Append(ctx context.Context, text ...string) error
	Normal(ctx context.Context, seq ...string) error
	TypeKeys(ctx context.Context, seq ...string) error
	RunExCommand(ctx context.Context, cmd string) error
	Exec(ctx context.Context, cmd string) (string, error)
	Eval(ctx context.Context, expr string) (string, error)
	SourceFile(ctx context.Context, path string) error
	ClearBuffer(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	CurrentLine(ctx context.Context) (string, error)
	Lines(ctx context.Context) ([]string, error)
}

var _ Editor = (*driver.Driver)(nil)

// MismatchError reports an expectation whose last observed value differed.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("expected %q, got %q", e.Expected, e.Actual)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int
	Step     Step
	Output   string
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Report is the outcome of one scenario run.
type Report struct {
	Scenario *Scenario
	Steps    []StepResult
	Err      error // failure before any step ran
	Duration time.Duration
}

// Passed reports whether every step succeeded.
func (r Report) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, s := range r.Steps {
		if s.Err != nil || s.Skipped {
			return false
		}
	}
	return true
}

// Failed returns the first failed step, if any.
func (r Report) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s, true
		}
	}
	return StepResult{}, false
}

// Runner executes scenarios against one editor.
type Runner struct {
	editor       Editor
	pollInterval time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPollInterval sets the delay between expectation retries.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// NewRunner creates a Runner for editor.
func NewRunner(editor Editor, opts ...RunnerOption) *Runner {
	r := &Runner{editor: editor, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the editor if needed and executes the steps in order. The
// first failing step ends the run; later steps are reported as skipped.
func (r *Runner) Run(ctx context.Context, sc *Scenario) Report {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanScriptRun,
		trace.WithAttributes(attribute.String(tracing.AttrScript, sc.Name)))

	start := time.Now()
	report := Report{Scenario: sc}

	if err := r.editor.Start(ctx); err != nil {
		report.Err = fmt.Errorf("starting editor: %w", err)
		tracing.End(span, report.Err)
		report.Duration = time.Since(start)
		return report
	}

	var failed error
	for i, step := range sc.Steps {
		res := StepResult{Index: i, Step: step}
		if failed != nil {
			res.Skipped = true
			report.Steps = append(report.Steps, res)
			continue
		}

		stepStart := time.Now()
		res.Output, res.Err = r.runStep(ctx, sc, step, i)
		res.Duration = time.Since(stepStart)
		if res.Err != nil {
			failed = res.Err
			log.Warn(log.CatScript, "step failed", "scenario", sc.Name, "step", i+1, "line", step.Line, "error", res.Err)
		}
		report.Steps = append(report.Steps, res)
	}

	tracing.End(span, failed)
	report.Duration = time.Since(start)
	log.Info(log.CatScript, "scenario finished", "scenario", sc.Name, "passed", report.Passed(), "elapsed", report.Duration)
	return report
}

func (r *Runner) runStep(ctx context.Context, sc *Scenario, step Step, index int) (out string, err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, tracing.SpanScriptStep,
		trace.WithAttributes(
			attribute.Int(tracing.AttrStep, index+1),
			attribute.String(tracing.AttrCommand, string(step.Action)),
		))
	defer func() { tracing.End(span, err) }()

	log.Debug(log.CatScript, "step", "scenario", sc.Name, "index", index+1, "step", step.String())

	e := r.editor
	switch step.Action {
	case ActionStart:
		return "", e.Start(ctx)
	case ActionStop:
		return "", e.Stop(ctx)
	case ActionInsert:
		return "", e.Insert(ctx, step.Arg)
	case ActionAppend:
		return "", e.Append(ctx, step.Arg)
	case ActionNormal:
		return "", e.Normal(ctx, step.Arg)
	case ActionType:
		return "", e.TypeKeys(ctx, step.Arg)
	case ActionEx:
		return "", e.RunExCommand(ctx, step.Arg)
	case ActionExec:
		// not retried: the command may have side effects
		out, err := e.Exec(ctx, step.Arg)
		if err != nil {
			return "", err
		}
		if step.Expect != nil && out != *step.Expect {
			return out, &MismatchError{Expected: *step.Expect, Actual: out}
		}
		return out, nil
	case ActionEval:
		if step.Expect == nil {
			return e.Eval(ctx, step.Arg)
		}
		return r.eventually(ctx, sc.Timeout, *step.Expect, func() (string, error) {
			return e.Eval(ctx, step.Arg)
		})
	case ActionSource:
		path := step.Arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(sc.Dir(), path)
		}
		return "", e.SourceFile(ctx, path)
	case ActionClear:
		return "", e.ClearBuffer(ctx)
	case ActionUndo:
		return "", e.Undo(ctx)
	case ActionRedo:
		return "", e.Redo(ctx)
	case ActionExpectLine:
		return r.eventually(ctx, sc.Timeout, step.Arg, func() (string, error) {
			return e.CurrentLine(ctx)
		})
	case ActionExpectLines:
		return r.eventually(ctx, sc.Timeout, strings.Join(step.Lines, "\n"), func() (string, error) {
			lines, err := e.Lines(ctx)
			return strings.Join(lines, "\n"), err
		})
	case ActionExpectMode:
		return r.eventually(ctx, sc.Timeout, step.Arg, func() (string, error) {
			m, err := e.Mode(ctx)
			return m.String(), err
		})
	case ActionExpectUp:
		return r.eventually(ctx, sc.Timeout, fmt.Sprint(step.Up), func() (string, error) {
			return fmt.Sprint(e.IsUp(ctx)), nil
		})
	default:
		return "", fmt.Errorf("unsupported action %q", step.Action)
	}
}

// eventually polls observe until it returns want or timeout elapses. Keys
// sent to the editor are processed asynchronously, so assertions retry.
func (r *Runner) eventually(ctx context.Context, timeout time.Duration, want string, observe func() (string, error)) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var (
		got     string
		lastErr error
	)
	for {
		got, lastErr = observe()
		if lastErr == nil && got == want {
			return got, nil
		}
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-deadline.C:
			if lastErr != nil {
				return got, lastErr
			}
			return got, &MismatchError{Expected: want, Actual: got}
		case <-ticker.C:
		}
	}
}
