// Package workflowdef loads and validates workflow-graph YAML documents
// (spec §6 "Workflow file"): a schema-versioned format naming phases,
// their prompt templates, MCP requirements and outbound transitions.
//
// The loader is modeled directly on the teacher's task-YAML loader
// (version header, then a version-specific conversion pass) so that
// adding a v2 workflow schema later is a routed dispatch, not a rewrite.
package workflowdef

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hansjm10/jeeves/internal/jeeveserr"
)

// SupportedVersions lists the workflow schema versions this loader accepts.
var SupportedVersions = []int{1}

// PhaseType is the kind of a phase node.
type PhaseType string

const (
	PhaseTypeExecute  PhaseType = "execute"
	PhaseTypeEvaluate PhaseType = "evaluate"
	PhaseTypeTerminal PhaseType = "terminal"
)

// MCPEnforcement controls what happens when a phase's required MCP servers
// are not present.
type MCPEnforcement string

const (
	MCPEnforcementStrict        MCPEnforcement = "strict"
	MCPEnforcementAllowDegraded MCPEnforcement = "allow_degraded"
)

// Transition is one outbound edge from a phase.
type Transition struct {
	To   string     `yaml:"to"`
	When *Predicate `yaml:"-"`
	Auto bool        `yaml:"-"`
}

// Phase is one node of the workflow graph.
type Phase struct {
	Name           string
	Type           PhaseType
	Prompt         string
	MCPProfile     string
	MCPEnforcement MCPEnforcement
	PermissionMode string
	MaxWallClock   string // duration string, e.g. "10m"
	Fanout         bool   // true for implement_task-style parallel phases
	Transitions    []Transition
}

// Workflow is the graph plus start node, fixed for the life of an issue.
type Workflow struct {
	Name   string
	Version int
	Start  string
	Phases map[string]Phase
}

// Phase looks up a phase by name.
func (w *Workflow) Phase(name string) (Phase, bool) {
	p, ok := w.Phases[name]
	return p, ok
}

// --- YAML wire shapes (v1) ---

type workflowFileV1 struct {
	Workflow struct {
		Name    string `yaml:"name"`
		Version int    `yaml:"version"`
		Start   string `yaml:"start"`
	} `yaml:"workflow"`
	Phases map[string]phaseV1 `yaml:"phases"`
}

type transitionV1 struct {
	To   string `yaml:"to"`
	When string `yaml:"when"`
	Auto bool   `yaml:"auto"`
}

type phaseV1 struct {
	Type           string         `yaml:"type"`
	Prompt         string         `yaml:"prompt"`
	MCPProfile     string         `yaml:"mcp_profile"`
	MCPEnforcement string         `yaml:"mcp_enforcement"`
	PermissionMode string         `yaml:"permission_mode"`
	MaxWallClock   string         `yaml:"max_wallclock"`
	Fanout         bool           `yaml:"fanout"`
	Transitions    []transitionV1 `yaml:"transitions"`
}

// versionHeader is parsed first to route to the correct schema loader,
// exactly as the teacher's config.LoadTask does for task YAML.
type versionHeader struct {
	Workflow struct {
		Version int `yaml:"version"`
	} `yaml:"workflow"`
}

// Load parses and validates a workflow document.
func Load(data []byte) (*Workflow, error) {
	var hdr versionHeader
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return nil, jeeveserr.Configuration("workflow_invalid", "parsing workflow header: %w", err)
	}
	version := hdr.Workflow.Version
	if version == 0 {
		version = 1
	}
	switch version {
	case 1:
		return loadV1(data)
	default:
		return nil, jeeveserr.Configuration("workflow_invalid", "unsupported workflow schema version %d (supported: %v)", version, SupportedVersions)
	}
}

func loadV1(data []byte) (*Workflow, error) {
	var doc workflowFileV1
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, jeeveserr.Configuration("workflow_invalid", "parsing workflow document: %w", err)
	}

	w := &Workflow{
		Name:    doc.Workflow.Name,
		Version: doc.Workflow.Version,
		Start:   doc.Workflow.Start,
		Phases:  make(map[string]Phase, len(doc.Phases)),
	}
	if w.Version == 0 {
		w.Version = 1
	}

	for name, pv := range doc.Phases {
		phase := Phase{
			Name:           name,
			Type:           PhaseType(pv.Type),
			Prompt:         pv.Prompt,
			MCPProfile:     pv.MCPProfile,
			MCPEnforcement: MCPEnforcement(pv.MCPEnforcement),
			PermissionMode: pv.PermissionMode,
			MaxWallClock:   pv.MaxWallClock,
			Fanout:         pv.Fanout,
		}
		if phase.Type == "" {
			phase.Type = PhaseTypeExecute
		}
		if phase.MCPEnforcement == "" {
			phase.MCPEnforcement = MCPEnforcementStrict
		}
		for _, tv := range pv.Transitions {
			t := Transition{To: tv.To, Auto: tv.Auto}
			if !t.Auto {
				pred, err := ParsePredicate(tv.When)
				if err != nil {
					return nil, jeeveserr.Configuration("workflow_invalid", "phase %q: transition to %q: %w", name, tv.To, err)
				}
				t.When = pred
			}
			phase.Transitions = append(phase.Transitions, t)
		}
		w.Phases[name] = phase
	}

	if err := validate(w); err != nil {
		return nil, err
	}
	return w, nil
}

func validate(w *Workflow) error {
	if w.Start == "" {
		return jeeveserr.Configuration("workflow_invalid", "workflow %q: missing start phase", w.Name)
	}
	if _, ok := w.Phases[w.Start]; !ok {
		return jeeveserr.Configuration("workflow_invalid", "workflow %q: start phase %q not defined", w.Name, w.Start)
	}
	for name, p := range w.Phases {
		if p.Type != PhaseTypeTerminal && len(p.Transitions) == 0 {
			return jeeveserr.Configuration("workflow_invalid", "phase %q: non-terminal phase must have at least one transition", name)
		}
		for _, t := range p.Transitions {
			if _, ok := w.Phases[t.To]; !ok {
				return jeeveserr.Configuration("workflow_invalid", "phase %q: transition target %q not defined", name, t.To)
			}
		}
	}
	return nil
}

// LoadFile reads and parses a workflow document from disk.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file %s: %w", path, err)
	}
	return Load(data)
}
