package report

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RunLog captures one pipeline run for the audit trail. It renders as
// Markdown with YAML frontmatter so both humans and scripts can read it.
type RunLog struct {
	RunID     string    `yaml:"run_id"`
	Source    string    `yaml:"source"`
	StartedAt time.Time `yaml:"started_at"`
	Duration  string    `yaml:"duration"`
	Fetched   int       `yaml:"fetched"`
	Added     int       `yaml:"added"`
	Updated   int       `yaml:"updated"`
	Unchanged int       `yaml:"unchanged"`
	Skipped   int       `yaml:"skipped"`
	Status    string    `yaml:"status"`
	Error     string    `yaml:"error,omitempty"`

	ReportPaths []string `yaml:"-"`
}

// RenderRunLog produces the frontmattered run summary.
func RenderRunLog(rl RunLog) (string, error) {
	fm, err := yaml.Marshal(rl)
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# Run %s\n\n", rl.RunID)
	fmt.Fprintf(&b, "Source `%s`: fetched %d, added %d, updated %d, unchanged %d, skipped %d.\n",
		rl.Source, rl.Fetched, rl.Added, rl.Updated, rl.Unchanged, rl.Skipped)
	if rl.Error != "" {
		fmt.Fprintf(&b, "\nRun failed: %s\n", rl.Error)
	}
	if len(rl.ReportPaths) > 0 {
		b.WriteString("\n## Outputs\n\n")
		for _, p := range rl.ReportPaths {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	return b.String(), nil
}
