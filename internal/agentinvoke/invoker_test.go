package agentinvoke

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available in test environment")
	}
}

func TestInvokeCapturesStdout(t *testing.T) {
	skipIfNoShell(t)
	inv := New("sh", []string{"-c", "cat; echo done"}, t.TempDir())
	result, err := inv.Invoke(context.Background(), "hello", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Stdout, "hello") || !strings.Contains(result.Stdout, "done") {
		t.Errorf("expected stdin echoed back and done marker, got %q", result.Stdout)
	}
}

func TestParseInlineEventsExtractsTopicAndPayload(t *testing.T) {
	output := `some log line
<event topic="build.done">tests: pass</event>
more output`
	events := parseInlineEvents(output)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Topic != "build.done" || events[0].Payload != "tests: pass" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestParseInlineEventsExtractsTarget(t *testing.T) {
	output := `<event topic="task.resume" target="builder">continue</event>`
	events := parseInlineEvents(output)
	if len(events) != 1 || events[0].Target != "builder" {
		t.Fatalf("expected target builder, got %+v", events)
	}
}

func TestParseInlineEventsHandlesMultipleAndMultilinePayloads(t *testing.T) {
	output := "<event topic=\"a.b\">line one\nline two</event>\n<event topic=\"c.d\">single</event>"
	events := parseInlineEvents(output)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !strings.Contains(events[0].Payload, "line one") || !strings.Contains(events[0].Payload, "line two") {
		t.Errorf("expected multiline payload preserved, got %q", events[0].Payload)
	}
}

func TestDetectCompletionPromiseMatchesFinalLine(t *testing.T) {
	output := "doing work\n<event topic=\"build.done\">ok</event>\nTASK COMPLETE\n"
	if !detectCompletionPromise(output, "TASK COMPLETE") {
		t.Error("expected the completion promise to be detected")
	}
}

func TestDetectCompletionPromiseIgnoresTextInsideEventTags(t *testing.T) {
	output := "<event topic=\"x.y\">TASK COMPLETE</event>\nactually still working"
	if detectCompletionPromise(output, "TASK COMPLETE") {
		t.Error("expected the completion promise inside an event tag to be ignored")
	}
}

func TestDetectCompletionPromiseEmptyPromiseNeverMatches(t *testing.T) {
	if detectCompletionPromise("TASK COMPLETE\n", "") {
		t.Error("expected an empty promise to never match")
	}
}
