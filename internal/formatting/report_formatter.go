// Package formatting renders finished runs as plain-text reports.
package formatting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/util"
	"github.com/charmbracelet/lipgloss"
)

const ruleWidth = 80

var (
	heavyRule = strings.Repeat("=", ruleWidth)
	lightRule = strings.Repeat("-", ruleWidth)
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
)

// RenderText lays out the report for saving to disk.
func RenderText(env *envelope.Envelope) string {
	return render(env, plain, plain)
}

// RenderStyled is RenderText with terminal colors on the headings.
func RenderStyled(env *envelope.Envelope) string {
	return render(env,
		func(s string) string { return titleStyle.Render(s) },
		func(s string) string { return sectionStyle.Render(s) })
}

func plain(s string) string { return s }

func render(env *envelope.Envelope, title, section func(string) string) string {
	report := envelope.ReportResult{ExecutiveSummary: "No summary available"}
	if env.Report != nil {
		report = *env.Report
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", env.Query)
	b.WriteString(heavyRule + "\n")
	b.WriteString(title("ANALYSIS REPORT") + "\n")
	b.WriteString(heavyRule + "\n\n")

	b.WriteString(section("EXECUTIVE SUMMARY:") + "\n")
	b.WriteString(lightRule + "\n")
	b.WriteString(report.ExecutiveSummary + "\n\n")

	b.WriteString(section("FULL REPORT:") + "\n")
	b.WriteString(lightRule + "\n")
	b.WriteString(report.FullReport + "\n\n")

	b.WriteString(section("KEY RECOMMENDATIONS:") + "\n")
	b.WriteString(lightRule + "\n")
	for i, rec := range report.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	return b.String()
}

// TaskLines summarizes each task's status, one line per task in name order.
func TaskLines(env *envelope.Envelope, names []string, styled bool) []string {
	lines := make([]string, 0, len(names))
	for _, name := range names {
		status := env.TaskStatuses[name]
		line := fmt.Sprintf("%-12s %s", name, status)
		if out, ok := env.Output(name); ok && out.IsError() {
			line += " (error: " + util.TruncateString(headline(out), 120, true) + ")"
			if styled {
				line = errorStyle.Render(line)
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func headline(out envelope.TaskOutput) string {
	if m, ok := out.(envelope.StructuredMetrics); ok {
		return m.Analysis
	}
	return out.Text()
}

// ReportFilename derives the save file name from the query.
func ReportFilename(query string) string {
	return "report_" + util.Slug(query, 30) + ".txt"
}

// SaveReport writes the rendered report into dir and returns its path.
func SaveReport(dir string, env *envelope.Envelope) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, ReportFilename(env.Query))
	if err := os.WriteFile(path, []byte(RenderText(env)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
