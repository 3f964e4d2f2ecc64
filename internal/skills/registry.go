// Package skills indexes on-disk skill definitions for the prompt composer's
// auto-inject and skill-index sections. Directory scanning fans out across
// the generic worker pool the teacher CLI uses for concurrent file
// processing, since loading many small skill files is an easily
// parallelized, CPU-light I/O-bound task.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralphloop/ralph/internal/worker"
)

// Skill is a single on-demand capability the agent may load.
type Skill struct {
	Name        string
	Description string
	AutoInject  bool
	Path        string
}

// Override layers configuration onto a discovered skill.
type Override struct {
	Enabled    *bool
	AutoInject *bool
	Tags       []string
}

// Registry holds every discovered, non-disabled skill.
type Registry struct {
	skills []Skill
}

// Load scans dirs concurrently for "*.skill.md" files and applies overrides
// by skill name. Directories that do not exist are skipped silently.
func Load(dirs []string, overrides map[string]Override) (*Registry, error) {
	var files []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read skills dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".skill.md") {
				continue
			}
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	pool := worker.NewPool[Skill](0)
	results := pool.Process(files, parseSkillFile)

	reg := &Registry{}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		s := r.Value
		if ov, ok := overrides[s.Name]; ok {
			if ov.Enabled != nil && !*ov.Enabled {
				continue
			}
			if ov.AutoInject != nil {
				s.AutoInject = *ov.AutoInject
			}
		}
		reg.skills = append(reg.skills, s)
	}
	return reg, nil
}

func parseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	lines := strings.Split(string(data), "\n")
	name := strings.TrimSuffix(filepath.Base(path), ".skill.md")
	description := ""
	autoInject := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# "):
			name = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		case strings.HasPrefix(trimmed, "auto_inject:"):
			autoInject = strings.TrimSpace(strings.TrimPrefix(trimmed, "auto_inject:")) == "true"
		case description == "" && trimmed != "" && !strings.HasPrefix(trimmed, "#"):
			description = trimmed
		}
	}
	return Skill{Name: name, Description: description, AutoInject: autoInject, Path: path}, nil
}

// AutoInjected returns every skill flagged for automatic prompt inclusion.
func (r *Registry) AutoInjected() []Skill {
	var out []Skill
	for _, s := range r.skills {
		if s.AutoInject {
			out = append(out, s)
		}
	}
	return out
}

// All returns every registered skill.
func (r *Registry) All() []Skill {
	return r.skills
}

// IndexTable renders a compact markdown table of every available skill.
func IndexTable(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("| Skill | Description |\n|---|---|\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "| %s | %s |\n", s.Name, s.Description)
	}
	return b.String()
}

// BuiltinToolsSkill describes the memory/task CLIs, auto-injected when
// either subsystem is enabled.
const BuiltinToolsSkill = "Use the `memory` and `task` CLIs to read and update persistent state; see the skill index for on-demand skills."

// BuiltinHumanInteractionSkill describes how to ask the operator a question,
// auto-injected when the human interface is enabled.
const BuiltinHumanInteractionSkill = "Publish a human.interact event to ask the operator a question; the loop will block for a response or time out."
