package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := Enabled()
	SetEnabled(false)
	t.Cleanup(func() { SetEnabled(prev) })
}

func TestStylize(t *testing.T) {
	prev := Enabled()
	t.Cleanup(func() { SetEnabled(prev) })

	SetEnabled(true)
	assert.Equal(t, Red+"x"+ResetCode, Stylize("x", Red))

	SetEnabled(false)
	assert.Equal(t, "x", Stylize("x", Red))
	assert.Equal(t, `{"a": 1}`, HighlightJSON(`{"a": 1}`))
}

func TestHighlightJSON(t *testing.T) {
	prev := Enabled()
	t.Cleanup(func() { SetEnabled(prev) })
	SetEnabled(true)

	out := HighlightJSON(`{"ok": true, "n": 3, "s": "v", "z": null}`)
	assert.Contains(t, out, Blue+`"ok"`+ResetCode+":")
	assert.Contains(t, out, Yellow+"true"+ResetCode)
	assert.Contains(t, out, Purple+"3"+ResetCode)
	assert.Contains(t, out, Green+`"v"`+ResetCode)
	assert.Contains(t, out, DimCode+"null"+ResetCode)
}

func TestApplyResults(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer

	applied, failed := ApplyResults(&buf, []domain.ApplyResult{
		{LogicalID: "ai-local-ollama-models", ObjectID: "ai-local-ollama-models-0190", Status: domain.ApplyApplied},
		{LogicalID: "ai-local-ollama-chat", Status: domain.ApplyFailed, Reason: "create rejected", Err: errors.New("status 400")},
	})

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, failed)
	out := buf.String()
	assert.Contains(t, out, "✔ ai-local-ollama-models ai-local-ollama-models-0190")
	assert.Contains(t, out, "✘ ai-local-ollama-chat: create rejected (status 400)")
	assert.Contains(t, out, "applied 1, failed 1")
}

func TestReport(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer

	r := &domain.Report{Target: "ollama/chat"}
	r.Add(domain.DiagnosticResult{Level: 1, TestName: "control-plane", Outcome: domain.OutcomeFail, Evidence: "connection refused"})
	r.RootCause = domain.CauseControlPlaneUnreachable
	r.Remediation = "Start the gateway."
	Report(&buf, r)

	out := buf.String()
	assert.Contains(t, out, "L1 ✘ control-plane")
	assert.Contains(t, out, "root cause: control-plane-unreachable")
	assert.Contains(t, out, "remediation: Start the gateway.")
	assert.Contains(t, out, "deepest level 1")
}

func TestWrap(t *testing.T) {
	out := wrap("one two three four", 9, "> ")
	assert.Equal(t, "one two\n> three\n> four", out)
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len(strings.TrimPrefix(line, "> ")), 9)
	}
	assert.Equal(t, "", wrap("  ", 10, ""))
}
