package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   []string
	}{
		{"Mixed markers", "Intro.\n\n- Do X\n* Do Y\n• Do Z\nNot a bullet", []string{"Do X", "Do Y", "Do Z"}},
		{"Capped at five", "- a\n- b\n- c\n- d\n- e\n- f\n- g", []string{"a", "b", "c", "d", "e"}},
		{"Indented", "   - spaced out", []string{"spaced out"}},
		{"None", "No bullets here.", []string{}},
		{"Empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommendations(tt.report))
		})
	}
}

func TestExecutiveSummary(t *testing.T) {
	assert.Equal(t, "Summary line one.", ExecutiveSummary("Summary line one.\n\nBody paragraph two."))
	assert.Equal(t, "Only one paragraph\nwith two lines.", ExecutiveSummary("Only one paragraph\nwith two lines."))
	assert.Equal(t, NoSummary, ExecutiveSummary(""))
}

func populated() *envelope.Envelope {
	env := envelope.New("run-1", "Compare CATL and LG", "EV market", []string{"research", "financial", "competitor"})
	env.Record("research", envelope.ListFindings{Items: []string{"r1", "r2"}}, envelope.StatusCompleted)
	env.Record("financial", envelope.StructuredMetrics{Analysis: "CATL leads", Status: envelope.MetricsStatusSuccess}, envelope.StatusCompleted)
	env.Record("competitor", envelope.ListFindings{Items: []string{"c1"}}, envelope.StatusCompleted)
	return env
}

func TestSynthesizePrompt(t *testing.T) {
	var got llm.Prompt
	b := llm.BackendFunc(func(_ context.Context, p llm.Prompt, tools []llm.ToolSpec) (string, error) {
		got = p
		assert.Empty(t, tools)
		return "Exec summary.\n\n## Recommendations\n- Expand LFP\n- Hedge lithium", nil
	})
	s := New(b, Config{Temperature: 0.2, MaxTokens: 3000}, zaptest.NewLogger(t))

	r := s.Synthesize(context.Background(), populated())
	assert.Equal(t, "Exec summary.", r.ExecutiveSummary)
	assert.Equal(t, []string{"Expand LFP", "Hedge lithium"}, r.Recommendations)
	assert.Contains(t, r.FullReport, "## Recommendations")

	assert.Contains(t, got.System, "executive analyst")
	assert.InDelta(t, 0.2, got.Temperature, 1e-6)
	assert.Equal(t, 3000, got.MaxTokens)
	want := "Original Query: Compare CATL and LG\n\n" +
		"Research Findings:\nr1\nr2\n\n" +
		"Financial Analysis:\n{\n  \"analysis\": \"CATL leads\",\n  \"status\": \"success\"\n}\n\n" +
		"Competitor Insights:\nc1\n\n" +
		"Please synthesize these insights into a comprehensive report."
	assert.Equal(t, want, got.User)
}

func TestSynthesizeMissingOutputs(t *testing.T) {
	var user string
	b := llm.BackendFunc(func(_ context.Context, p llm.Prompt, _ []llm.ToolSpec) (string, error) {
		user = p.User
		return "", nil
	})
	env := envelope.New("run-2", "q", "", []string{"research", "financial", "competitor", "supply"})
	env.Record("supply", envelope.ListFindings{Items: []string{"cobalt tight"}}, envelope.StatusCompleted)

	r := New(b, Config{}, nil).Synthesize(context.Background(), env)
	assert.Equal(t, NoSummary, r.ExecutiveSummary)
	assert.Equal(t, []string{}, r.Recommendations)
	assert.Contains(t, user, "Financial Analysis:\n{}\n\n")
	assert.Contains(t, user, "supply Output:\ncobalt tight")
}

func TestSynthesizeBackendError(t *testing.T) {
	b := llm.BackendFunc(func(context.Context, llm.Prompt, []llm.ToolSpec) (string, error) {
		return "", errors.New("throttled")
	})
	r := New(b, Config{}, zaptest.NewLogger(t)).Synthesize(context.Background(), populated())

	assert.Equal(t, "Synthesis Error: throttled", r.FullReport)
	assert.Equal(t, SummaryErrorMessage, r.ExecutiveSummary)
	require.NotNil(t, r.Recommendations)
	assert.Empty(t, r.Recommendations)
}

func TestSynthesizeRecoversPanic(t *testing.T) {
	b := llm.BackendFunc(func(context.Context, llm.Prompt, []llm.ToolSpec) (string, error) {
		panic("bad backend")
	})
	r := New(b, Config{}, zaptest.NewLogger(t)).Synthesize(context.Background(), populated())
	assert.Equal(t, "Synthesis Error: panic: bad backend", r.FullReport)
	assert.Equal(t, SummaryErrorMessage, r.ExecutiveSummary)
}
