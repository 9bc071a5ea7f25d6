package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/nulzo/gatewayctl/internal/core/domain"
)

// Phase prints one line for a run phase.
func Phase(w io.Writer, name string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(w, "%s %s: %v\n", CrossMark(), Bold(name), err)
		return
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", CheckMark(), Bold(name))
}

// ApplyResults prints every provisioning result followed by the counts.
func ApplyResults(w io.Writer, results []domain.ApplyResult) (applied, failed int) {
	for _, r := range results {
		if r.OK() {
			applied++
			_, _ = fmt.Fprintf(w, "  %s %s %s\n", CheckMark(), r.LogicalID, Dim(r.ObjectID))
			continue
		}
		failed++
		line := fmt.Sprintf("  %s %s: %s", CrossMark(), r.LogicalID, r.Reason)
		if r.Err != nil {
			line += Dim(" (" + r.Err.Error() + ")")
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_, _ = fmt.Fprintf(w, "%s applied %d, failed %d\n", Arrow(), applied, failed)
	return applied, failed
}

func outcomeMark(o domain.Outcome) string {
	switch o {
	case domain.OutcomePass:
		return CheckMark()
	case domain.OutcomeWarn:
		return WarningSign()
	default:
		return CrossMark()
	}
}

// Report prints a diagnostic report: one line per level, then the root cause
// and its remediation.
func Report(w io.Writer, r *domain.Report) {
	_, _ = fmt.Fprintf(w, "%s %s\n", Arrow(), Bold(r.Target))
	for _, res := range r.Results {
		_, _ = fmt.Fprintf(w, "  L%d %s %-28s %s\n", res.Level, outcomeMark(res.Outcome), res.TestName, Dim(res.Evidence))
	}

	cause := Stylize(string(r.RootCause), Green)
	if !r.Healthy() {
		cause = Stylize(string(r.RootCause), Red)
	}
	_, _ = fmt.Fprintf(w, "  pass %d, fail %d, warn %d, deepest level %d\n", r.Passed, r.Failed, r.Warned, r.DeepestLevel)
	_, _ = fmt.Fprintf(w, "  root cause: %s\n", cause)
	if !r.Healthy() {
		_, _ = fmt.Fprintf(w, "  remediation: %s\n", wrap(r.Remediation, 76, "               "))
	}
}

// wrap breaks text at spaces so no line exceeds width, indenting
// continuation lines.
func wrap(text string, width int, indent string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	lineLen := 0
	for i, word := range words {
		if i > 0 {
			if lineLen+1+len(word) > width {
				b.WriteString("\n" + indent)
				lineLen = 0
			} else {
				b.WriteByte(' ')
				lineLen++
			}
		}
		b.WriteString(word)
		lineLen += len(word)
	}
	return b.String()
}
