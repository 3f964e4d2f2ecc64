package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/agentinvoke"
	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/config"
	"github.com/ralphloop/ralph/internal/engine"
	"github.com/ralphloop/ralph/internal/human"
	"github.com/ralphloop/ralph/internal/journal"
	"github.com/ralphloop/ralph/internal/memories"
	"github.com/ralphloop/ralph/internal/prompt"
	"github.com/ralphloop/ralph/internal/recovery"
	"github.com/ralphloop/ralph/internal/skills"
	"github.com/ralphloop/ralph/internal/snapshot"
	"github.com/ralphloop/ralph/internal/status"
	"github.com/ralphloop/ralph/internal/tasks"
)

var (
	runObjective   string
	runAgentCmd    string
	runSolo        bool
	runNoHuman     bool
	runGitCommand  string
	runMaxIter     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the event loop",
	Long:  `run drives the iteration engine until the configured termination condition fires.`,
	RunE:  runLoop,
}

func init() {
	runCmd.Flags().StringVar(&runObjective, "objective", "", "Objective text surfaced in the status snapshot")
	runCmd.Flags().StringVar(&runAgentCmd, "agent-command", "claude", "External agent CLI command to invoke each activation")
	runCmd.Flags().BoolVar(&runSolo, "solo", false, "Run with no custom hats registered (Ralph handles everything directly)")
	runCmd.Flags().BoolVar(&runNoHuman, "no-human", false, "Disable the human-in-the-loop adapter entirely")
	runCmd.Flags().StringVar(&runGitCommand, "git-command", "git", "Git command used for pre-invocation snapshots")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "Override event_loop.max_iterations (0 keeps the configured value)")
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	workspaceDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	flagOverrides := &config.Config{Verbose: GetVerbose()}
	if runMaxIter > 0 {
		flagOverrides.EventLoop.MaxIterations = runMaxIter
	}
	cfg, err := config.Load(flagOverrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(workspaceDir, ".ralph"), 0o755); err != nil {
		return fmt.Errorf("create .ralph dir: %w", err)
	}
	startingTopic := cfg.EventLoop.StartingEvent
	if startingTopic == "" {
		startingTopic = "task.start"
	}
	objective := runObjective
	if objective == "" {
		objective = "unspecified objective"
	}
	if err := startNewJournal(workspaceDir, startingTopic, objective); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}

	registry := busproto.NewRegistry()
	if !runSolo {
		registry.Register(busproto.DefaultPlanner())
		registry.Register(busproto.DefaultBuilder())
		registry.Register(busproto.DefaultSimpleExecutor())
		registry.Register(busproto.DefaultTEA())
	}
	for id, hatCfg := range cfg.Hats {
		registry.Configure(id, busproto.HatConfig{
			Backend:          hatCfg.Backend,
			MaxActivations:   hatCfg.MaxActivations,
			DefaultPublishes: hatCfg.DefaultPublishes,
		})
	}
	bus := busproto.NewBus(registry)

	jr := journal.NewReader(workspaceDir)

	memStore := memories.New(filepath.Join(workspaceDir, ".ralph", "memories.md"), cfg.Memories.Enabled, memories.InjectMode(cfg.Memories.Inject), cfg.Memories.Budget)
	taskStore := tasks.New(filepath.Join(workspaceDir, ".ralph", "tasks.json"), cfg.Tasks.Enabled)
	skillRegistry, err := skills.Load(cfg.Skills.Dirs, convertSkillOverrides(cfg.Skills.Overrides))
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}

	composer := prompt.NewComposer(memStore, taskStore, skillRegistry, filepath.Join(workspaceDir, cfg.Paths.ScratchpadFile), cfg.Robot.Enabled && !runNoHuman)

	invoker := agentinvoke.New(runAgentCmd, nil, workspaceDir)

	snap := snapshot.New(workspaceDir, runGitCommand)
	rec := recovery.New(workspaceDir)
	aud := audit.New(workspaceDir)
	stat := status.New(workspaceDir)

	var adapter human.Adapter
	if cfg.Robot.Enabled && !runNoHuman {
		adapter = human.NewTerminalAdapter(os.Stdin, os.Stdout, uint64(cfg.Robot.CheckinIntervalSecs), aud)
	}

	term := engine.Termination{
		Limits: engine.Limits{
			MaxIterations:          cfg.EventLoop.MaxIterations,
			MaxRuntime:             time.Duration(cfg.EventLoop.MaxRuntimeSeconds) * time.Second,
			MaxCostUSD:             cfg.EventLoop.MaxCostUSD,
			MaxConsecutiveFailures: cfg.EventLoop.MaxConsecutiveFailures,
		},
		StopSentinelPresent:    sentinelConsumer(filepath.Join(workspaceDir, cfg.Paths.StopSentinel)),
		RestartSentinelPresent: sentinelProbe(filepath.Join(workspaceDir, cfg.Paths.RestartSentinel)),
	}

	eng := engine.New(engine.Config{
		Objective:         runObjective,
		StartingEvent:      cfg.EventLoop.StartingEvent,
		CompletionPromise: cfg.EventLoop.CompletionPromise,
		Persistent:        cfg.EventLoop.Persistent,
		CheckinInterval:   time.Duration(cfg.Robot.CheckinIntervalSecs) * time.Second,
		SoloMode:          registry.IsEmpty(),
	}, bus, jr, composer, invoker, snap, rec, aud, stat, adapter, term, VerbosePrintf)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reason, code, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("run loop: %w", err)
	}
	fmt.Printf("loop stopped: %s\n", reason)
	os.Exit(code)
	return nil
}

// journalSeedLine mirrors the on-disk JSONL envelope shape the journal
// reader parses (internal/journal's line type, unexported to that package).
type journalSeedLine struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// startNewJournal creates a fresh journal file for this run, seeded with a
// single starting event carrying objective so the first iteration has
// something to dispatch, and points the marker file at it, per the
// one-journal-file-per-run contract.
func startNewJournal(workspaceDir, startingTopic, objective string) error {
	rel := fmt.Sprintf(".ralph/events-%d.jsonl", time.Now().UnixNano())
	seed, err := json.Marshal(journalSeedLine{Topic: startingTopic, Payload: objective})
	if err != nil {
		return fmt.Errorf("encode starting event: %w", err)
	}
	seed = append(seed, '\n')
	if err := os.WriteFile(filepath.Join(workspaceDir, rel), seed, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspaceDir, journal.MarkerFileName), []byte(rel), 0o644)
}

// sentinelConsumer reports whether the file at path exists and deletes it,
// matching the stop sentinel's one-shot "consumed" contract.
func sentinelConsumer(path string) func() bool {
	return func() bool {
		if _, err := os.Stat(path); err != nil {
			return false
		}
		_ = os.Remove(path)
		return true
	}
}

// sentinelProbe reports whether the file at path exists, without consuming
// it. The restart sentinel's absence on the next process start is what
// distinguishes a restart-triggered re-exec from a normal run.
func sentinelProbe(path string) func() bool {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}

func convertSkillOverrides(in map[string]config.SkillOverride) map[string]skills.Override {
	out := make(map[string]skills.Override, len(in))
	for name, o := range in {
		out[name] = skills.Override{
			Enabled:    o.Enabled,
			AutoInject: o.AutoInject,
			Tags:       o.Tags,
		}
	}
	return out
}
