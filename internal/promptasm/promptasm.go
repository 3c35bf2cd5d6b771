// Package promptasm assembles the final prompt text handed to an
// AgentProvider for one phase: the phase's template (with any YAML
// frontmatter stripped), agent-convention docs found in the working
// directory, and the <memory_context> block built by internal/memory.
package promptasm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
)

// conventionFiles are checked, in order, in the phase's working directory
// and prepended verbatim if present (spec §4.3 item 1).
var conventionFiles = []string{"AGENTS.md", "CLAUDE.md"}

// LoadTemplate reads a prompt template file, stripping any leading YAML
// frontmatter header so only the markdown body becomes part of the prompt.
// Most templates carry no frontmatter at all; when adrg/frontmatter finds
// none it simply returns the original body unchanged.
func LoadTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt template %s: %w", path, err)
	}

	var meta struct {
		Title string `yaml:"title"`
	}
	rest, err := frontmatter.Parse(strings.NewReader(string(data)), &meta)
	if err != nil {
		// Not every template carries frontmatter; fall back to the raw body
		// rather than failing the phase over a cosmetic parse error.
		return string(data), nil
	}
	return string(rest), nil
}

// Assemble builds the final prompt: convention docs, then memory context,
// then the template body, in that order.
func Assemble(workingDir, templateBody, memoryContext string) string {
	var b strings.Builder
	for _, name := range conventionFiles {
		path := filepath.Join(workingDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteString("\n\n")
	}
	if memoryContext != "" {
		b.WriteString(memoryContext)
		b.WriteString("\n\n")
	}
	b.WriteString(templateBody)
	return b.String()
}
