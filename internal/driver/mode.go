package driver

import (
	"errors"
	"fmt"
)

// ErrUnknownMode is returned when mode() reports nothing the driver can
// classify.
var ErrUnknownMode = errors.New("unknown editor mode")

// Mode is the editor's input state as reported by mode().
type Mode int

const (
	ModeUnknown Mode = iota
	Normal
	Insert
	Visual
	VisualLine
	VisualBlock
	Select
	Replace
	Command
	// Other covers the prompts and special states (hit-enter, more, confirm,
	// terminal job, shell) that are left with a hard escape.
	Other
)

var modeNames = map[Mode]string{
	ModeUnknown: "unknown",
	Normal:      "normal",
	Insert:      "insert",
	Visual:      "visual",
	VisualLine:  "visual-line",
	VisualBlock: "visual-block",
	Select:      "select",
	Replace:     "replace",
	Command:     "command",
	Other:       "other",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps the output of mode() to a Mode. Only the first character
// is significant; anything unrecognised is Other.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeUnknown, fmt.Errorf("%w: empty", ErrUnknownMode)
	}
	switch s[0] {
	case 'n':
		return Normal, nil
	case 'i':
		return Insert, nil
	case 'v':
		return Visual, nil
	case 'V':
		return VisualLine, nil
	case 0x16: // CTRL-V
		return VisualBlock, nil
	case 's', 'S', 0x13: // CTRL-S
		return Select, nil
	case 'R':
		return Replace, nil
	case 'c':
		return Command, nil
	default:
		return Other, nil
	}
}

func (m Mode) IsNormal() bool  { return m == Normal }
func (m Mode) IsInsert() bool  { return m == Insert }
func (m Mode) IsReplace() bool { return m == Replace }
func (m Mode) IsSelect() bool  { return m == Select }
func (m Mode) IsCommand() bool { return m == Command }
func (m Mode) IsOther() bool   { return m == Other }

// IsVisual is true for characterwise, linewise and blockwise visual mode.
func (m Mode) IsVisual() bool {
	return m == Visual || m == VisualLine || m == VisualBlock
}

// LookupMode returns the Mode whose String form is name.
func LookupMode(name string) (Mode, bool) {
	for m, n := range modeNames {
		if n == name && m != ModeUnknown {
			return m, true
		}
	}
	return ModeUnknown, false
}
