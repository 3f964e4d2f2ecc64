// Package agentinvoke shells out to the configured agent CLI, streams its
// stdout, and parses the inline event tags the agent uses to publish
// structured output alongside (or instead of) the JSONL journal.
//
// The manual buffered-read loop and line-oriented progress callback mirror
// the teacher CLI's stream_parser.go, adapted from parsing Claude Code's
// stream-json envelope to parsing this loop's inline <event> tags.
package agentinvoke

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"

	"github.com/ralphloop/ralph/internal/busproto"
)

var eventTagPattern = regexp.MustCompile(`(?s)<event topic="([^"]*)"(?:\s+target="([^"]*)")?>(.*?)</event>`)

// Invoker shells out to an external agent CLI for one hat activation.
type Invoker struct {
	Command      string
	Args         []string
	WorkspaceDir string
}

// New returns an Invoker that runs command with args inside workspaceDir.
func New(command string, args []string, workspaceDir string) *Invoker {
	return &Invoker{Command: command, Args: args, WorkspaceDir: workspaceDir}
}

// Result is everything observed from one agent invocation.
type Result struct {
	Stdout             string
	InlineEvents       []busproto.Event
	CompletionPromised bool
}

// Invoke runs the agent with prompt on stdin and waits for it to exit. If
// completionPromise is non-empty, the final non-empty stdout line outside any
// event tag is compared against it to detect task completion.
//
// onOutput, if non-nil, is called with each chunk of raw stdout as it
// arrives, for verbose/live display; it does not affect parsing.
func (inv *Invoker) Invoke(ctx context.Context, prompt, completionPromise string, onOutput func(string)) (Result, error) {
	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.WorkspaceDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("agent stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("agent stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start agent: %w", err)
	}

	go func() {
		io.WriteString(stdin, prompt)
		stdin.Close()
	}()

	var captured bytes.Buffer
	reader := bufio.NewReaderSize(stdout, 64*1024)
	chunk := make([]byte, 64*1024)
	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			captured.Write(chunk[:n])
			if onOutput != nil {
				onOutput(string(chunk[:n]))
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	output := captured.String()
	result := Result{
		Stdout:             output,
		InlineEvents:       parseInlineEvents(output),
		CompletionPromised: detectCompletionPromise(output, completionPromise),
	}
	if waitErr != nil {
		return result, fmt.Errorf("agent exited: %w: %s", waitErr, stderr.String())
	}
	return result, nil
}

func parseInlineEvents(output string) []busproto.Event {
	matches := eventTagPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	events := make([]busproto.Event, 0, len(matches))
	for _, m := range matches {
		e := busproto.New(m[1], strings.TrimSpace(m[3]))
		if m[2] != "" {
			e = e.WithTarget(m[2])
		}
		events = append(events, e)
	}
	return events
}

// detectCompletionPromise reports whether the final non-empty line of
// output, once all event tags are stripped out, equals promise exactly.
func detectCompletionPromise(output, promise string) bool {
	if promise == "" {
		return false
	}
	stripped := eventTagPattern.ReplaceAllString(output, "")
	lines := strings.Split(stripped, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return line == promise
	}
	return false
}
