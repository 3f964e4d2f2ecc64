// Package config provides configuration management for ralph's event loop.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (RALPH_*)
// 3. Project config (.ralph/config.yaml in cwd)
// 4. Home config (~/.ralph/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all ralph configuration.
type Config struct {
	// BaseDir is ralph's data directory (default: .ralph).
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	EventLoop EventLoopConfig `yaml:"event_loop" json:"event_loop"`
	Robot     RobotConfig     `yaml:"robot" json:"robot"`
	Memories  MemoriesConfig  `yaml:"memories" json:"memories"`
	Tasks     TasksConfig     `yaml:"tasks" json:"tasks"`
	Skills    SkillsConfig    `yaml:"skills" json:"skills"`

	// Hats holds per-hat overrides, keyed by hat id.
	Hats map[string]HatConfig `yaml:"hats" json:"hats"`

	// Paths settings for artifact locations. The run command reads only the
	// scratchpad and stop/restart sentinel paths; the recovery, request-log
	// and status files use the fixed names of their packages.
	Paths PathsConfig `yaml:"paths" json:"paths"`
}

// EventLoopConfig holds the iteration engine's termination and behavior
// limits.
type EventLoopConfig struct {
	// CompletionPromise is the literal string an agent emits on its final
	// stdout line (outside an event tag) to signal the task is done.
	// Default: "RALPH_TASK_COMPLETE".
	CompletionPromise string `yaml:"completion_promise" json:"completion_promise"`

	// MaxIterations caps the number of loop iterations (0 = unbounded).
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MaxRuntimeSeconds caps wall-clock runtime (0 = unbounded).
	MaxRuntimeSeconds int `yaml:"max_runtime_seconds" json:"max_runtime_seconds"`

	// MaxCostUSD caps cumulative agent invocation cost (0 = unbounded).
	MaxCostUSD float64 `yaml:"max_cost_usd" json:"max_cost_usd"`

	// MaxConsecutiveFailures caps how many consecutive invocation errors
	// are tolerated before the loop halts.
	// Default: 3.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`

	// Persistent, when true, suppresses completion-promise termination and
	// instead publishes task.resume so the loop keeps running.
	Persistent bool `yaml:"persistent" json:"persistent"`

	// StartingEvent is the topic that triggers the pre-invocation snapshot.
	// Default: "task.start".
	StartingEvent string `yaml:"starting_event" json:"starting_event"`

	// MutationScoreWarnThreshold is a minimum mutation score (0-100). It is
	// loaded and merged but not read by any other package: backpressure
	// evidence never fails or warns on mutation.
	// Default: 60.
	MutationScoreWarnThreshold int `yaml:"mutation_score_warn_threshold" json:"mutation_score_warn_threshold"`
}

// RobotConfig controls the human-in-the-loop adapter.
type RobotConfig struct {
	Enabled             bool `yaml:"enabled" json:"enabled"`
	CheckinIntervalSecs int  `yaml:"checkin_interval_seconds" json:"checkin_interval_seconds"`
}

// MemoriesConfig controls the memories subsystem consulted by the prompt
// composer.
type MemoriesConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Inject  string `yaml:"inject" json:"inject"` // "auto" or "manual"
	Budget  int    `yaml:"budget" json:"budget"`
}

// TasksConfig controls the tasks store consulted by the prompt composer.
type TasksConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// SkillsConfig controls the skills catalog consulted by the prompt composer.
type SkillsConfig struct {
	Enabled   bool                     `yaml:"enabled" json:"enabled"`
	Dirs      []string                 `yaml:"dirs" json:"dirs"`
	Overrides map[string]SkillOverride `yaml:"overrides" json:"overrides"`
}

// SkillOverride tunes a single named skill's eligibility.
type SkillOverride struct {
	Enabled    *bool    `yaml:"enabled" json:"enabled"`
	Hats       []string `yaml:"hats" json:"hats"`
	Backends   []string `yaml:"backends" json:"backends"`
	Tags       []string `yaml:"tags" json:"tags"`
	AutoInject *bool    `yaml:"auto_inject" json:"auto_inject"`
}

// HatConfig holds per-hat overrides layered onto a hat's code-defined
// defaults at registration time.
type HatConfig struct {
	Backend          string `yaml:"backend" json:"backend"`
	MaxActivations   int    `yaml:"max_activations" json:"max_activations"`
	DefaultPublishes string `yaml:"default_publishes" json:"default_publishes"`
}

// PathsConfig holds configurable paths for artifact locations.
type PathsConfig struct {
	// ScratchpadFile is the working-memory file injected into prompts.
	// Default: .ralph/scratchpad.md
	ScratchpadFile string `yaml:"scratchpad_file" json:"scratchpad_file"`

	// RecoveryFile is the sentinel the recovery queue checks for.
	// Default: RECOVERY_QUEUE.md
	RecoveryFile string `yaml:"recovery_file" json:"recovery_file"`

	// RequestLogFile is the audit log of halts, resumptions, triage and
	// strategy decisions, human decisions and loop termination.
	// Default: RequestLog.md
	RequestLogFile string `yaml:"request_log_file" json:"request_log_file"`

	// StatusJSONFile and StatusMDFile are the status manager's dual outputs.
	StatusJSONFile string `yaml:"status_json_file" json:"status_json_file"`
	StatusMDFile   string `yaml:"status_md_file" json:"status_md_file"`

	// StopSentinel and RestartSentinel gate manual termination control.
	StopSentinel    string `yaml:"stop_sentinel" json:"stop_sentinel"`
	RestartSentinel string `yaml:"restart_sentinel" json:"restart_sentinel"`
}

// Default config values (used in resolution and validation).
const (
	defaultBaseDir            = ".ralph"
	defaultCompletionPromise  = "RALPH_TASK_COMPLETE"
	defaultStartingEvent      = "task.start"
	defaultMaxConsecutiveFail = 3
	defaultMutationWarn       = 60
	defaultCheckinIntervalSec = 300
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseDir: defaultBaseDir,
		Verbose: false,
		EventLoop: EventLoopConfig{
			CompletionPromise:          defaultCompletionPromise,
			MaxConsecutiveFailures:     defaultMaxConsecutiveFail,
			StartingEvent:              defaultStartingEvent,
			MutationScoreWarnThreshold: defaultMutationWarn,
		},
		Robot: RobotConfig{
			Enabled:             true,
			CheckinIntervalSecs: defaultCheckinIntervalSec,
		},
		Memories: MemoriesConfig{
			Enabled: true,
			Inject:  "auto",
			Budget:  4000,
		},
		Tasks: TasksConfig{
			Enabled: true,
		},
		Skills: SkillsConfig{
			Enabled: true,
			Dirs:    []string{".ralph/skills"},
		},
		Hats: map[string]HatConfig{},
		Paths: PathsConfig{
			ScratchpadFile:  ".ralph/scratchpad.md",
			RecoveryFile:    "RECOVERY_QUEUE.md",
			RequestLogFile:  "RequestLog.md",
			StatusJSONFile:  ".captain-status.json",
			StatusMDFile:    ".captain-status.md",
			StopSentinel:    ".ralph/stop-requested",
			RestartSentinel: ".ralph/restart-requested",
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ralph", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("RALPH_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".ralph", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("RALPH_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("RALPH_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("RALPH_COMPLETION_PROMISE"); v != "" {
		cfg.EventLoop.CompletionPromise = v
	}
	if v, ok := getEnvInt("RALPH_MAX_ITERATIONS"); ok {
		cfg.EventLoop.MaxIterations = v
	}
	if v, ok := getEnvInt("RALPH_MAX_RUNTIME_SECONDS"); ok {
		cfg.EventLoop.MaxRuntimeSeconds = v
	}
	if v, ok := getEnvFloat("RALPH_MAX_COST_USD"); ok {
		cfg.EventLoop.MaxCostUSD = v
	}
	if v, ok := getEnvInt("RALPH_MAX_CONSECUTIVE_FAILURES"); ok {
		cfg.EventLoop.MaxConsecutiveFailures = v
	}
	if v := os.Getenv("RALPH_PERSISTENT"); v == "true" || v == "1" {
		cfg.EventLoop.Persistent = true
	}
	if v := os.Getenv("RALPH_STARTING_EVENT"); v != "" {
		cfg.EventLoop.StartingEvent = v
	}
	if v := os.Getenv("RALPH_ROBOT_ENABLED"); v == "false" || v == "0" {
		cfg.Robot.Enabled = false
	}
	if v, ok := getEnvInt("RALPH_ROBOT_CHECKIN_INTERVAL_SECONDS"); ok {
		cfg.Robot.CheckinIntervalSecs = v
	}
	if v := os.Getenv("RALPH_MEMORIES_ENABLED"); v == "false" || v == "0" {
		cfg.Memories.Enabled = false
	}
	if v := os.Getenv("RALPH_SKILLS_ENABLED"); v == "false" || v == "0" {
		cfg.Skills.Enabled = false
	}
	return cfg
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnvFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// merge merges src into dst, with src values taking precedence.
// For booleans, we need explicit tracking via pointer or separate "set" flag;
// the handful the loop actually needs (Verbose, Persistent) use OR semantics
// across layers instead, since "false" in a lower layer must never clobber
// "true" set by a higher one.
func merge(dst, src *Config) *Config {
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.Verbose {
		dst.Verbose = true
	}

	if src.EventLoop.CompletionPromise != "" {
		dst.EventLoop.CompletionPromise = src.EventLoop.CompletionPromise
	}
	if src.EventLoop.MaxIterations != 0 {
		dst.EventLoop.MaxIterations = src.EventLoop.MaxIterations
	}
	if src.EventLoop.MaxRuntimeSeconds != 0 {
		dst.EventLoop.MaxRuntimeSeconds = src.EventLoop.MaxRuntimeSeconds
	}
	if src.EventLoop.MaxCostUSD != 0 {
		dst.EventLoop.MaxCostUSD = src.EventLoop.MaxCostUSD
	}
	if src.EventLoop.MaxConsecutiveFailures != 0 {
		dst.EventLoop.MaxConsecutiveFailures = src.EventLoop.MaxConsecutiveFailures
	}
	if src.EventLoop.Persistent {
		dst.EventLoop.Persistent = true
	}
	if src.EventLoop.StartingEvent != "" {
		dst.EventLoop.StartingEvent = src.EventLoop.StartingEvent
	}
	if src.EventLoop.MutationScoreWarnThreshold != 0 {
		dst.EventLoop.MutationScoreWarnThreshold = src.EventLoop.MutationScoreWarnThreshold
	}

	if src.Robot.CheckinIntervalSecs != 0 {
		dst.Robot.CheckinIntervalSecs = src.Robot.CheckinIntervalSecs
	}

	if src.Memories.Inject != "" {
		dst.Memories.Inject = src.Memories.Inject
	}
	if src.Memories.Budget != 0 {
		dst.Memories.Budget = src.Memories.Budget
	}

	if len(src.Skills.Dirs) > 0 {
		dst.Skills.Dirs = src.Skills.Dirs
	}
	for name, override := range src.Skills.Overrides {
		if dst.Skills.Overrides == nil {
			dst.Skills.Overrides = map[string]SkillOverride{}
		}
		dst.Skills.Overrides[name] = override
	}

	for id, hatCfg := range src.Hats {
		if dst.Hats == nil {
			dst.Hats = map[string]HatConfig{}
		}
		dst.Hats[id] = hatCfg
	}

	if src.Paths.ScratchpadFile != "" {
		dst.Paths.ScratchpadFile = src.Paths.ScratchpadFile
	}
	if src.Paths.RecoveryFile != "" {
		dst.Paths.RecoveryFile = src.Paths.RecoveryFile
	}
	if src.Paths.RequestLogFile != "" {
		dst.Paths.RequestLogFile = src.Paths.RequestLogFile
	}
	if src.Paths.StatusJSONFile != "" {
		dst.Paths.StatusJSONFile = src.Paths.StatusJSONFile
	}
	if src.Paths.StatusMDFile != "" {
		dst.Paths.StatusMDFile = src.Paths.StatusMDFile
	}
	if src.Paths.StopSentinel != "" {
		dst.Paths.StopSentinel = src.Paths.StopSentinel
	}
	if src.Paths.RestartSentinel != "" {
		dst.Paths.RestartSentinel = src.Paths.RestartSentinel
	}

	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.ralph/config.yaml"
	SourceProject Source = ".ralph/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// resolved pairs a value with the layer it was resolved from.
type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources, for `ralph status
// --config`-style introspection.
type ResolvedConfig struct {
	BaseDir           resolved `json:"base_dir"`
	Verbose           resolved `json:"verbose"`
	CompletionPromise resolved `json:"completion_promise"`
	StartingEvent     resolved `json:"starting_event"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flagBaseDir, flagCompletionPromise, flagStartingEvent string, flagVerbose bool) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var homeBaseDir, homePromise, homeStarting string
	var homeVerbose bool
	if homeConfig != nil {
		homeBaseDir = homeConfig.BaseDir
		homeVerbose = homeConfig.Verbose
		homePromise = homeConfig.EventLoop.CompletionPromise
		homeStarting = homeConfig.EventLoop.StartingEvent
	}

	var projectBaseDir, projectPromise, projectStarting string
	var projectVerbose bool
	if projectConfig != nil {
		projectBaseDir = projectConfig.BaseDir
		projectVerbose = projectConfig.Verbose
		projectPromise = projectConfig.EventLoop.CompletionPromise
		projectStarting = projectConfig.EventLoop.StartingEvent
	}

	envBaseDir := os.Getenv("RALPH_BASE_DIR")
	envPromise := os.Getenv("RALPH_COMPLETION_PROMISE")
	envStarting := os.Getenv("RALPH_STARTING_EVENT")
	envVerbose := os.Getenv("RALPH_VERBOSE") == "true" || os.Getenv("RALPH_VERBOSE") == "1"

	rc := &ResolvedConfig{
		BaseDir:           resolveStringField(homeBaseDir, projectBaseDir, envBaseDir, flagBaseDir, defaultBaseDir),
		Verbose:           resolved{Value: false, Source: SourceDefault},
		CompletionPromise: resolveStringField(homePromise, projectPromise, envPromise, flagCompletionPromise, defaultCompletionPromise),
		StartingEvent:     resolveStringField(homeStarting, projectStarting, envStarting, flagStartingEvent, defaultStartingEvent),
	}

	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
