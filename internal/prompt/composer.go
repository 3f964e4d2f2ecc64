// Package prompt assembles the per-iteration prompt handed to the agent CLI,
// composing it from loop state, persistent stores, and pending events in a
// fixed eight-step order.
package prompt

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/memories"
	"github.com/ralphloop/ralph/internal/skills"
	"github.com/ralphloop/ralph/internal/tasks"
	"github.com/ralphloop/ralph/internal/topic"
)

// ScratchpadBudget is the hard character budget enforced on the scratchpad
// section. The source treats this as an unconditional constant.
const ScratchpadBudget = 16000

const sovereignBanner = "### 🚨 SOVEREIGN COMMAND\n%s\nYou MUST strictly adhere to this choice.\n"

// Composer assembles prompts for a configured set of stores. It also owns the
// small pieces of cross-iteration state the composer contract requires: a
// pending human decision and cached guidance, both cleared the first time
// they're used.
type Composer struct {
	Memories       *memories.Store
	Tasks          *tasks.Store
	Skills         *skills.Registry
	ScratchpadPath string
	HumanEnabled   bool

	mu              sync.Mutex
	pendingDecision string
	guidanceCache   string
}

// NewComposer returns a Composer over the given stores. Any of mem, tsk, or
// skl may be nil to represent a disabled subsystem.
func NewComposer(mem *memories.Store, tsk *tasks.Store, skl *skills.Registry, scratchpadPath string, humanEnabled bool) *Composer {
	return &Composer{
		Memories:       mem,
		Tasks:          tsk,
		Skills:         skl,
		ScratchpadPath: scratchpadPath,
		HumanEnabled:   humanEnabled,
	}
}

// SetPendingDecision records a human decision to be surfaced as a sovereign
// command banner on the next Compose call, then cleared.
func (c *Composer) SetPendingDecision(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingDecision = text
}

// RecordGuidance appends a timestamped markdown block to the scratchpad file
// and caches the guidance text for injection into the immediate next prompt.
func (c *Composer) RecordGuidance(text string) error {
	if c.ScratchpadPath != "" {
		f, err := os.OpenFile(c.ScratchpadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("record guidance: %w", err)
		}
		defer f.Close()
		block := fmt.Sprintf("\n### Guidance %s\n%s\n", time.Now().UTC().Format(time.RFC3339), text)
		if _, err := f.WriteString(block); err != nil {
			return fmt.Errorf("record guidance: %w", err)
		}
	}
	c.mu.Lock()
	c.guidanceCache = text
	c.mu.Unlock()
	return nil
}

func (c *Composer) takePendingDecision() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.pendingDecision
	c.pendingDecision = ""
	return d
}

func (c *Composer) takeGuidance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.guidanceCache
	c.guidanceCache = ""
	return g
}

// Request carries everything Compose needs for a single hat's turn.
type Request struct {
	Hat          busproto.Hat
	Events       []busproto.Event
	AllHats      []busproto.Hat
	PendingTopics []string
	SoloMode     bool
}

// Compose assembles the prompt for req.Hat in the fixed eight-step order.
func (c *Composer) Compose(req Request) (string, error) {
	var sections []string

	if s := c.composeBanner(); s != "" {
		sections = append(sections, s)
	}
	if s := c.composeMemories(); s != "" {
		sections = append(sections, s)
	}
	if s := c.composeAutoInjectSkills(); s != "" {
		sections = append(sections, s)
	}
	if s := c.composeSkillIndex(); s != "" {
		sections = append(sections, s)
	}
	scratchpad, err := c.composeScratchpad()
	if err != nil {
		return "", err
	}
	if scratchpad != "" {
		sections = append(sections, scratchpad)
	}
	if s := c.composeTasks(); s != "" {
		sections = append(sections, s)
	}
	if s := composeHatsTable(req); s != "" {
		sections = append(sections, s)
	}
	if s := composeEvents(req.Events); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n\n"), nil
}

func (c *Composer) composeBanner() string {
	var b strings.Builder
	if d := c.takePendingDecision(); d != "" {
		fmt.Fprintf(&b, sovereignBanner, "[HUMAN DECISION: "+d+"]")
	}
	if g := c.takeGuidance(); g != "" {
		fmt.Fprintf(&b, "### Human Guidance\n%s\n", g)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Composer) composeMemories() string {
	if c.Memories == nil || !c.Memories.Enabled || c.Memories.Inject != memories.InjectAuto {
		return ""
	}
	entries, err := c.Memories.Load()
	if err != nil || len(entries) == 0 {
		return ""
	}
	joined := strings.Join(entries, "\n")
	if c.Memories.Budget > 0 && len(joined) > c.Memories.Budget {
		joined = joined[len(joined)-c.Memories.Budget:]
	}
	return "## Memories\n" + joined
}

func (c *Composer) composeAutoInjectSkills() string {
	if c.Skills == nil {
		return ""
	}
	var lines []string
	if (c.Memories != nil && c.Memories.Enabled) || (c.Tasks != nil && c.Tasks.Enabled) {
		lines = append(lines, "- "+skills.BuiltinToolsSkill)
	}
	if c.HumanEnabled {
		lines = append(lines, "- "+skills.BuiltinHumanInteractionSkill)
	}
	for _, s := range c.Skills.AutoInjected() {
		lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Auto-injected skills\n" + strings.Join(lines, "\n")
}

func (c *Composer) composeSkillIndex() string {
	if c.Skills == nil {
		return ""
	}
	table := skills.IndexTable(c.Skills.All())
	if table == "" {
		return ""
	}
	return "## Skill index\n" + table
}

func (c *Composer) composeScratchpad() (string, error) {
	if c.ScratchpadPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.ScratchpadPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read scratchpad: %w", err)
	}
	content := string(data)
	if content == "" {
		return "", nil
	}
	return "## Scratchpad\n" + truncateScratchpad(content), nil
}

// truncateScratchpad enforces ScratchpadBudget by keeping the tail and
// prepending a marker listing the markdown headings that were discarded.
func truncateScratchpad(content string) string {
	if len(content) <= ScratchpadBudget {
		return content
	}
	discarded := content[:len(content)-ScratchpadBudget]
	kept := content[len(content)-ScratchpadBudget:]

	var headings []string
	for _, line := range strings.Split(discarded, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			headings = append(headings, trimmed)
		}
	}

	var b strings.Builder
	b.WriteString("[scratchpad truncated; discarded headings:")
	if len(headings) == 0 {
		b.WriteString(" none")
	} else {
		for _, h := range headings {
			b.WriteString("\n  " + h)
		}
	}
	b.WriteString("]\n")
	b.WriteString(kept)
	return b.String()
}

func (c *Composer) composeTasks() string {
	if c.Tasks == nil || !c.Tasks.Enabled {
		return ""
	}
	all, err := c.Tasks.Load()
	if err != nil || len(all) == 0 {
		return ""
	}
	ready := tasks.Ready(all)
	blocked := tasks.Blocked(all)

	var b strings.Builder
	b.WriteString("## Tasks\n")
	if len(ready) > 0 {
		b.WriteString("Ready:\n")
		for _, t := range ready {
			fmt.Fprintf(&b, "- [%s] %s (priority %d)\n", t.ID, t.Title, t.Priority)
		}
	}
	if len(blocked) > 0 {
		b.WriteString("Blocked:\n")
		for _, t := range blocked {
			fmt.Fprintf(&b, "- [%s] %s (blocked by %s)\n", t.ID, t.Title, strings.Join(t.Blockers, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func composeHatsTable(req Request) string {
	if req.SoloMode {
		return ""
	}
	hats := req.AllHats
	if req.Hat.ID == busproto.RalphHatID {
		hats = activeHats(req.AllHats, req.PendingTopics)
	}
	if len(hats) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## HATS\n| ID | Name | Description |\n|---|---|---|\n")
	for _, h := range hats {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", h.ID, h.Name, h.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func activeHats(all []busproto.Hat, pendingTopics []string) []busproto.Hat {
	var active []busproto.Hat
	for _, h := range all {
		for _, t := range pendingTopics {
			if topic.MatchesAny(h.Subscriptions, t) {
				active = append(active, h)
				break
			}
		}
	}
	return active
}

func composeEvents(events []busproto.Event) string {
	if len(events) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range events {
		payload := e.Payload
		if e.Topic == "task.start" || e.Topic == "task.resume" {
			payload = "<top-level-prompt>\n" + payload + "\n</top-level-prompt>"
		}
		fmt.Fprintf(&b, "Event: %s - %s\n", e.Topic, payload)
	}
	return strings.TrimRight(b.String(), "\n")
}
