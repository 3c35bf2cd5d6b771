// Package memory builds the <memory_context> prompt block from the state
// store's memory entries, applying the exact per-scope filtering, fixed
// scope ordering, and global cap rules of spec §4.3 item 1.
package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hansjm10/jeeves/internal/model"
)

// MaxEntries is the global cap applied after per-scope filtering.
const MaxEntries = 500

// scopeOrder is the fixed rendering order: Working Set, Decisions, Session
// Context, Cross-Run.
var scopeOrder = []model.MemoryScope{
	model.MemoryScopeWorkingSet,
	model.MemoryScopeDecisions,
	model.MemoryScopeSession,
	model.MemoryScopeCrossRun,
}

func sortScope(entries []model.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].SourceIteration != entries[j].SourceIteration {
			return entries[i].SourceIteration < entries[j].SourceIteration
		}
		return entries[i].Key < entries[j].Key
	})
}

// Filter applies the scope-specific filtering rules to the full entry set
// for the given current phase, returning entries grouped by scope in fixed
// render order, each sorted within scope, and capped at MaxEntries total
// (filtered before capped, so scope-relevant entries survive the cap).
func Filter(all []model.MemoryEntry, currentPhase string) map[model.MemoryScope][]model.MemoryEntry {
	byScope := make(map[model.MemoryScope][]model.MemoryEntry, 4)

	for _, e := range all {
		switch e.Scope {
		case model.MemoryScopeWorkingSet, model.MemoryScopeDecisions:
			if e.Stale {
				continue
			}
			byScope[e.Scope] = append(byScope[e.Scope], e)
		case model.MemoryScopeSession:
			if e.Stale {
				continue
			}
			if !strings.HasPrefix(e.Key, currentPhase+":") {
				continue
			}
			byScope[e.Scope] = append(byScope[e.Scope], e)
		case model.MemoryScopeCrossRun:
			if e.Stale {
				continue
			}
			if !containsPhase(e.RelevantPhases(), currentPhase) {
				continue
			}
			byScope[e.Scope] = append(byScope[e.Scope], e)
		}
	}

	for _, scope := range scopeOrder {
		sortScope(byScope[scope])
	}

	remaining := MaxEntries
	out := make(map[model.MemoryScope][]model.MemoryEntry, 4)
	for _, scope := range scopeOrder {
		entries := byScope[scope]
		if remaining <= 0 {
			break
		}
		if len(entries) > remaining {
			entries = entries[:remaining]
		}
		out[scope] = entries
		remaining -= len(entries)
	}
	return out
}

func containsPhase(phases []string, target string) bool {
	for _, p := range phases {
		if p == target {
			return true
		}
	}
	return false
}

var scopeHeader = map[model.MemoryScope]string{
	model.MemoryScopeWorkingSet: "### Working Set (active)",
	model.MemoryScopeDecisions:  "### Decisions (active)",
}

// BuildContext renders the full <memory_context> block for currentPhase.
// Scope order and header text are part of the external prompt contract
// exercised by spec §8 scenario 2.
func BuildContext(all []model.MemoryEntry, currentPhase string) string {
	filtered := Filter(all, currentPhase)

	var b strings.Builder
	b.WriteString("<memory_context>\n")
	for _, scope := range scopeOrder {
		entries := filtered[scope]
		header, ok := scopeHeader[scope]
		switch scope {
		case model.MemoryScopeSession:
			header = fmt.Sprintf("### Session Context (phase=%s)", currentPhase)
		case model.MemoryScopeCrossRun:
			header = "### Cross-Run Memory (relevant)"
		}
		if len(entries) == 0 && !ok && scope != model.MemoryScopeSession && scope != model.MemoryScopeCrossRun {
			continue
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, e := range entries {
			valueJSON, _ := json.Marshal(e.Value)
			fmt.Fprintf(&b, "- %s: %s\n", e.Key, valueJSON)
		}
		b.WriteString("\n")
	}
	b.WriteString("</memory_context>")
	return b.String()
}
