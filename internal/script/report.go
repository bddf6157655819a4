package script

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Styles colour the report. The zero Styles renders plain text.
type Styles struct {
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Skip    lipgloss.Style
	Detail  lipgloss.Style
	Missing lipgloss.Style
	Extra   lipgloss.Style
}

// DefaultStyles returns the coloured styles used on terminals.
func DefaultStyles() Styles {
	return Styles{
		Pass:    lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		Fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		Skip:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		Missing: lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Strikethrough(true),
		Extra:   lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Underline(true),
	}
}

func plainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Pass: s, Fail: s, Skip: s, Detail: s, Missing: s, Extra: s}
}

// WriteReport writes a human-readable summary of reports to w. Pass nil
// styles for plain output.
func WriteReport(w io.Writer, reports []Report, st *Styles) error {
	styles := plainStyles()
	if st != nil {
		styles = *st
	}

	var b strings.Builder
	passed := 0
	for _, r := range reports {
		writeScenario(&b, r, styles)
		if r.Passed() {
			passed++
		}
	}

	summary := fmt.Sprintf("%d/%d scenarios passed", passed, len(reports))
	if passed == len(reports) {
		b.WriteString(styles.Pass.Render(summary))
	} else {
		b.WriteString(styles.Fail.Render(summary))
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeScenario(b *strings.Builder, r Report, st Styles) {
	name := r.Scenario.Name
	elapsed := r.Duration.Round(time.Millisecond)

	if r.Passed() {
		fmt.Fprintf(b, "%s %s %s\n", st.Pass.Render("PASS"), name,
			st.Detail.Render(fmt.Sprintf("(%d steps, %s)", len(r.Steps), elapsed)))
		return
	}

	fmt.Fprintf(b, "%s %s %s\n", st.Fail.Render("FAIL"), name, st.Detail.Render(fmt.Sprintf("(%s)", elapsed)))
	if r.Err != nil {
		fmt.Fprintf(b, "    %s\n", r.Err)
		return
	}

	skipped := 0
	for _, s := range r.Steps {
		switch {
		case s.Skipped:
			skipped++
		case s.Err != nil:
			fmt.Fprintf(b, "    step %d (line %d): %s\n", s.Index+1, s.Step.Line, s.Step)
			var mismatch *MismatchError
			if errors.As(s.Err, &mismatch) {
				fmt.Fprintf(b, "      expected: %q\n", mismatch.Expected)
				fmt.Fprintf(b, "      actual:   %q\n", mismatch.Actual)
				fmt.Fprintf(b, "      diff:     %s\n", renderDiff(diffSegments(mismatch.Expected, mismatch.Actual), st))
			} else {
				fmt.Fprintf(b, "      error: %s\n", s.Err)
			}
		}
	}
	if skipped > 0 {
		fmt.Fprintf(b, "    %s\n", st.Skip.Render(fmt.Sprintf("%d step(s) skipped", skipped)))
	}
}
