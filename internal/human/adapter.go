// Package human defines the platform-agnostic human-interface adapter
// contract and a terminal-based fallback implementation used when no richer
// transport (chat bot, TUI) is registered.
package human

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/busproto"
)

// CheckinContext carries the state surfaced during a periodic check-in.
type CheckinContext struct {
	CurrentHat       string
	OpenTaskCount    int
	ClosedTaskCount  int
	CumulativeCostUSD float64
}

// Adapter is the capability interface the core depends on to reach a human
// operator. The core never depends on a specific transport; a chat bot, a
// TUI, or (as here) a bare terminal can all satisfy it.
type Adapter interface {
	SendQuestion(ctx context.Context, text string) (messageID string, err error)
	SendCheckin(ctx context.Context, iteration int, elapsed time.Duration, info CheckinContext) error
	WaitForResponse(ctx context.Context, journalPath string) (response string, ok bool)
	TimeoutSecs() uint64
	ShutdownFlag() *atomic.Bool
	Stop()
}

// TerminalAdapter prompts on the controlling terminal. It is the documented
// CLI fallback used when no richer human-interface transport is registered.
type TerminalAdapter struct {
	in      io.Reader
	out     io.Writer
	timeout uint64
	limiter *rate.Limiter
	flag    atomic.Bool
	logger  *audit.Logger
}

// NewTerminalAdapter returns a TerminalAdapter reading from in and writing to
// out, with the given response timeout in seconds. The limiter paces
// send-question attempts to one per 2 seconds, a fixed interval rather than
// an exponential backoff, so retries do not hammer the terminal.
func NewTerminalAdapter(in io.Reader, out io.Writer, timeoutSecs uint64, logger *audit.Logger) *TerminalAdapter {
	return &TerminalAdapter{
		in:      in,
		out:     out,
		timeout: timeoutSecs,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		logger:  logger,
	}
}

// SendQuestion writes text to the terminal, retrying through the limiter if
// the write itself fails (e.g., a transient pipe error).
func (a *TerminalAdapter) SendQuestion(ctx context.Context, text string) (string, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(a.out, "\n%s\n> ", text); err != nil {
			lastErr = err
			continue
		}
		return fmt.Sprintf("terminal-%d", time.Now().UnixNano()), nil
	}
	return "", fmt.Errorf("send question: %w", lastErr)
}

// SendCheckin writes a short progress line to the terminal.
func (a *TerminalAdapter) SendCheckin(ctx context.Context, iteration int, elapsed time.Duration, info CheckinContext) error {
	_, err := fmt.Fprintf(a.out, "[check-in] iteration %d, elapsed %s, hat=%s, open=%d closed=%d cost=$%.4f\n",
		iteration, elapsed.Round(time.Second), info.CurrentHat, info.OpenTaskCount, info.ClosedTaskCount, info.CumulativeCostUSD)
	return err
}

// WaitForResponse blocks reading one line from the terminal, honoring both
// ctx and the shared shutdown flag.
func (a *TerminalAdapter) WaitForResponse(ctx context.Context, journalPath string) (string, bool) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		reader := bufio.NewReader(a.in)
		line, err := reader.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	timer := time.NewTimer(time.Duration(a.timeout) * time.Second)
	defer timer.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.flag.Load() {
			return "", false
		}
		select {
		case r := <-ch:
			if r.err != nil {
				return "", false
			}
			return r.line, true
		case <-timer.C:
			return "", false
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		}
	}
}

// TimeoutSecs returns the configured response timeout.
func (a *TerminalAdapter) TimeoutSecs() uint64 { return a.timeout }

// ShutdownFlag returns the adapter's shared atomic shutdown flag.
func (a *TerminalAdapter) ShutdownFlag() *atomic.Bool { return &a.flag }

// Stop marks the adapter as shutting down.
func (a *TerminalAdapter) Stop() { a.flag.Store(true) }

// HandleProactiveOptions prompts for a choice among opts on the terminal,
// matching the typed id case-insensitively and defaulting to the first
// option on invalid input. It logs the decision as a HUMAN_DECISION audit
// row and returns a human.response event carrying the chosen option id.
func (a *TerminalAdapter) HandleProactiveOptions(ctx context.Context, correlationID string, opts busproto.ProactiveOptions) busproto.Event {
	fmt.Fprintf(a.out, "\n%s\n", opts.Question)
	for _, o := range opts.Options {
		fmt.Fprintf(a.out, "  [%s] %s\n", o.ID, o.Label)
	}
	fmt.Fprintf(a.out, "> ")

	chosen := opts.Options[0]
	if line, ok := a.WaitForResponse(ctx, ""); ok {
		typed := strings.ToLower(strings.TrimSpace(line))
		for _, o := range opts.Options {
			if strings.ToLower(o.ID) == typed {
				chosen = o
				break
			}
		}
	}

	if a.logger != nil {
		_ = a.logger.Log(audit.HumanDecision, correlationID, fmt.Sprintf("chose option %s: %s", chosen.ID, chosen.Label))
	}

	return busproto.Event{
		Topic:   "human.response",
		Payload: chosen.ID,
	}
}
