// Package synthesis merges the task outputs of a run into the final report.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/Kocoro-lab/battery-analyst/internal/tasks"
	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	MaxRecommendations = 5

	NoSummary           = "No summary available"
	SummaryErrorMessage = "Error generating summary"
)

const systemPrompt = `You are an executive analyst creating comprehensive battery industry reports.

Your task: Synthesize insights from specialized analysts into a cohesive report.

Report structure:
1. Executive Summary (3-4 sentences)
2. Technical Analysis (from Research Agent)
3. Financial Performance (from Financial Agent)
4. Competitive Landscape (from Competitor Agent)
5. Strategic Recommendations (3-5 bullet points)
6. Key Risks and Opportunities

Be concise, data-driven, and actionable.`

// Section places one task's output under a heading in the prompt.
type Section struct {
	Task    string
	Heading string
	// Empty is rendered when the task produced nothing.
	Empty string
}

// DefaultSections covers the three built-in analyst roles.
var DefaultSections = []Section{
	{Task: "research", Heading: "Research Findings"},
	{Task: "financial", Heading: "Financial Analysis", Empty: "{}"},
	{Task: "competitor", Heading: "Competitor Insights"},
}

type Config struct {
	Temperature float32
	MaxTokens   int
	Sections    []Section
}

// Synthesizer writes the report with one backend call.
type Synthesizer struct {
	backend llm.Backend
	config  Config
	logger  *zap.Logger
}

func New(backend llm.Backend, cfg Config, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Sections == nil {
		cfg.Sections = DefaultSections
	}
	return &Synthesizer{backend: backend, config: cfg, logger: logger}
}

// Synthesize builds the report for env. It never fails: backend errors are
// folded into the returned report.
func (s *Synthesizer) Synthesize(ctx context.Context, env *envelope.Envelope) (result envelope.ReportResult) {
	ctx, span := tracing.StartSpan(ctx, "synthesis", attribute.String("run.id", env.RunID))
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			result = errorReport(err)
		}
		metrics.SynthesisTotal.WithLabelValues(outcome(err)).Inc()
		tracing.EndSpan(span, err)
		s.logger.Debug("Synthesis finished",
			zap.String("run_id", env.RunID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}()

	prompt := llm.Prompt{
		System:      systemPrompt,
		User:        s.userPrompt(env),
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}
	var report string
	report, err = s.backend.Invoke(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("Synthesis failed", zap.String("run_id", env.RunID), zap.Error(err))
		return errorReport(err)
	}

	return envelope.ReportResult{
		ExecutiveSummary: ExecutiveSummary(report),
		FullReport:       report,
		Recommendations:  Recommendations(report),
	}
}

func (s *Synthesizer) userPrompt(env *envelope.Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original Query: %s\n\n", env.Query)

	covered := make(map[string]bool, len(s.config.Sections))
	for _, sec := range s.config.Sections {
		covered[sec.Task] = true
		text := sec.Empty
		if out, ok := env.Output(sec.Task); ok {
			text = out.Text()
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", sec.Heading, text)
	}
	// Tasks without a configured section still reach the model.
	var extra []string
	for name := range env.TaskStatuses {
		if !covered[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		if out, ok := env.Output(name); ok {
			fmt.Fprintf(&b, "%s Output:\n%s\n\n", name, out.Text())
		}
	}

	b.WriteString("Please synthesize these insights into a comprehensive report.")
	return b.String()
}

func errorReport(err error) envelope.ReportResult {
	return envelope.ReportResult{
		ExecutiveSummary: SummaryErrorMessage,
		FullReport:       fmt.Sprintf("Synthesis Error: %v", err),
		Recommendations:  []string{},
	}
}

// ExecutiveSummary returns the first paragraph of report.
func ExecutiveSummary(report string) string {
	if report == "" {
		return NoSummary
	}
	summary, _, _ := strings.Cut(report, "\n\n")
	return summary
}

// Recommendations returns up to five bulleted lines of report, in order,
// with their markers stripped.
func Recommendations(report string) []string {
	recs := []string{}
	for _, line := range strings.Split(report, "\n") {
		trimmed := strings.TrimSpace(line)
		if !tasks.IsBullet(trimmed) {
			continue
		}
		recs = append(recs, strings.TrimLeft(trimmed, "-•* "))
		if len(recs) == MaxRecommendations {
			break
		}
	}
	return recs
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
