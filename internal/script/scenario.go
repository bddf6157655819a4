// Package script runs YAML scenarios against an editor: a list of steps that
// type text, run commands and assert on the buffer, mode and expression
// results.
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/vimpilot/internal/driver"
)

// DefaultTimeout bounds how long an expectation is retried.
const DefaultTimeout = 2 * time.Second

// ErrInvalidScenario is wrapped by every parse and validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Action names a step kind.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionInsert      Action = "insert"
	ActionAppend      Action = "append"
	ActionNormal      Action = "normal"
	ActionType        Action = "type"
	ActionEx          Action = "ex"
	ActionExec        Action = "exec"
	ActionEval        Action = "eval"
	ActionSource      Action = "source"
	ActionClear       Action = "clear"
	ActionUndo        Action = "undo"
	ActionRedo        Action = "redo"
	ActionExpectLine  Action = "expect_line"
	ActionExpectLines Action = "expect_lines"
	ActionExpectMode  Action = "expect_mode"
	ActionExpectUp    Action = "expect_up"
)

type argKind int

const (
	argNone argKind = iota
	argText
	argList
	argBool
)

var actionArgs = map[Action]argKind{
	ActionStart:       argNone,
	ActionStop:        argNone,
	ActionClear:       argNone,
	ActionUndo:        argNone,
	ActionRedo:        argNone,
	ActionInsert:      argText,
	ActionAppend:      argText,
	ActionNormal:      argText,
	ActionType:        argText,
	ActionEx:          argText,
	ActionExec:        argText,
	ActionEval:        argText,
	ActionSource:      argText,
	ActionExpectLine:  argText,
	ActionExpectMode:  argText,
	ActionExpectLines: argList,
	ActionExpectUp:    argBool,
}

// Step is one scenario instruction.
type Step struct {
	Line   int // line in the scenario file
	Action Action
	Arg    string
	Lines  []string
	Up     bool
	// Expect is the expected output of exec or eval, if given.
	Expect *string
}

func (s Step) String() string {
	switch actionArgs[s.Action] {
	case argText:
		return fmt.Sprintf("%s: %s", s.Action, s.Arg)
	case argList:
		return fmt.Sprintf("%s: %q", s.Action, s.Lines)
	case argBool:
		return fmt.Sprintf("%s: %t", s.Action, s.Up)
	default:
		return string(s.Action)
	}
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name    string
	Path    string
	Timeout time.Duration
	Steps   []Step
}

// Dir is the directory relative paths in the scenario resolve against.
func (s *Scenario) Dir() string {
	if s.Path == "" {
		return "."
	}
	return filepath.Dir(s.Path)
}

type rawScenario struct {
	Name    string      `yaml:"name"`
	Timeout string      `yaml:"timeout"`
	Steps   []yaml.Node `yaml:"steps"`
}

// Load reads and parses the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Path = path
	if sc.Name == "" {
		sc.Name = filepath.Base(path)
	}
	return sc, nil
}

// Parse parses scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var raw rawScenario
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}

	sc := &Scenario{Name: raw.Name, Timeout: DefaultTimeout}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: timeout %q must be a positive duration", ErrInvalidScenario, raw.Timeout)
		}
		sc.Timeout = d
	}

	for i := range raw.Steps {
		step, err := parseStep(&raw.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("%w: step %d (line %d): %w", ErrInvalidScenario, i+1, raw.Steps[i].Line, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func parseStep(node *yaml.Node) (Step, error) {
	step := Step{Line: node.Line}

	switch node.Kind {
	case yaml.ScalarNode:
		step.Action = Action(node.Value)
		kind, ok := actionArgs[step.Action]
		if !ok {
			return step, fmt.Errorf("unknown action %q", node.Value)
		}
		if kind != argNone {
			return step, fmt.Errorf("%s needs a value", step.Action)
		}
		return step, nil
	case yaml.MappingNode:
	default:
		return step, fmt.Errorf("step must be an action name or a mapping")
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		if key == "expect" {
			if value.Kind != yaml.ScalarNode {
				return step, fmt.Errorf("expect must be a string")
			}
			expect := value.Value
			step.Expect = &expect
			continue
		}

		kind, ok := actionArgs[Action(key)]
		if !ok {
			return step, fmt.Errorf("unknown action %q", key)
		}
		if step.Action != "" {
			return step, fmt.Errorf("more than one action (%s, %s)", step.Action, key)
		}
		step.Action = Action(key)

		if err := decodeArg(&step, kind, value); err != nil {
			return step, err
		}
	}

	if step.Action == "" {
		return step, fmt.Errorf("no action")
	}
	if step.Expect != nil && step.Action != ActionExec && step.Action != ActionEval {
		return step, fmt.Errorf("expect only applies to exec and eval")
	}
	return step, nil
}

func decodeArg(step *Step, kind argKind, value *yaml.Node) error {
	switch kind {
	case argNone:
		return nil
	case argText:
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s needs a string", step.Action)
		}
		step.Arg = value.Value
		if step.Action == ActionExpectMode {
			if _, ok := driver.LookupMode(step.Arg); !ok {
				return fmt.Errorf("unknown mode %q", step.Arg)
			}
		}
		if step.Arg == "" && step.Action != ActionExpectLine && step.Action != ActionInsert && step.Action != ActionAppend {
			return fmt.Errorf("%s needs a non-empty string", step.Action)
		}
	case argList:
		if value.Kind != yaml.SequenceNode {
			return fmt.Errorf("%s needs a list", step.Action)
		}
		step.Lines = make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("%s entries must be strings", step.Action)
			}
			step.Lines = append(step.Lines, item.Value)
		}
	case argBool:
		b, err := strconv.ParseBool(value.Value)
		if err != nil || value.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s needs true or false", step.Action)
		}
		step.Up = b
	}
	return nil
}
