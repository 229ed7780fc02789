package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrIterationLimit is returned when no final answer is reached within
	// the configured number of reasoning steps.
	ErrIterationLimit = errors.New("agent stopped due to iteration limit")
	// ErrMalformedOutput marks model output that fits neither the action nor
	// the final answer format.
	ErrMalformedOutput = errors.New("invalid format")
)

const finalAnswerMarker = "Final Answer:"

var (
	actionPattern     = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyPattern = regexp.MustCompile(`Action\s*\d*\s*:`)
)

// Tool is something the reasoning loop can call by name.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (any, error)
}

// ReactConfig controls the think/act/observe loop.
type ReactConfig struct {
	MaxIterations int
	Temperature   float32
	MaxTokens     int
}

// Step is one think/act/observe cycle.
type Step struct {
	Log         string `json:"log"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation"`
}

// ReactResult is the outcome of a completed loop.
type ReactResult struct {
	Output     string
	Iterations int
	Steps      []Step
}

// ReactExecutor drives a backend through a bounded tool-using loop.
type ReactExecutor struct {
	backend Backend
	tools   []Tool
	byName  map[string]Tool
	specs   []ToolSpec
	config  ReactConfig
	logger  *zap.Logger
}

func NewReactExecutor(backend Backend, tools []Tool, config ReactConfig, logger *zap.Logger) *ReactExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 3
	}
	e := &ReactExecutor{
		backend: backend,
		tools:   tools,
		byName:  make(map[string]Tool, len(tools)),
		config:  config,
		logger:  logger,
	}
	for _, t := range tools {
		e.byName[t.Name()] = t
		e.specs = append(e.specs, ToolSpec{Name: t.Name(), Description: t.Description()})
	}
	return e
}

// Run answers question under the given role instructions. Backend and tool
// errors end the loop immediately; malformed model output is reported back
// to the model as an observation and costs one iteration.
func (e *ReactExecutor) Run(ctx context.Context, instructions, question string) (ReactResult, error) {
	var (
		steps      []Step
		scratchpad strings.Builder
	)

	for i := 0; i < e.config.MaxIterations; i++ {
		prompt := Prompt{
			User:        e.render(instructions, question, scratchpad.String()),
			Temperature: e.config.Temperature,
			MaxTokens:   e.config.MaxTokens,
			Stop:        []string{"\nObservation:"},
		}
		text, err := e.backend.Invoke(ctx, prompt, e.specs)
		if err != nil {
			return ReactResult{Iterations: i + 1, Steps: steps}, err
		}

		action, input, answer, perr := parseReact(text)
		if perr == nil && action == "" {
			e.logger.Debug("Reasoning loop finished", zap.Int("iterations", i+1))
			return ReactResult{Output: answer, Iterations: i + 1, Steps: steps}, nil
		}

		step := Step{Log: strings.TrimRight(text, " \n"), Action: action, ActionInput: input}
		switch {
		case perr != nil:
			e.logger.Debug("Malformed reasoning output", zap.Int("iteration", i+1), zap.Error(perr))
			step.Observation = perr.Error()
		default:
			obs, err := e.callTool(ctx, action, input)
			if err != nil {
				return ReactResult{Iterations: i + 1, Steps: steps}, err
			}
			step.Observation = obs
		}
		steps = append(steps, step)

		scratchpad.WriteString(step.Log)
		scratchpad.WriteString("\nObservation: ")
		scratchpad.WriteString(step.Observation)
		scratchpad.WriteString("\nThought: ")
	}

	return ReactResult{Iterations: e.config.MaxIterations, Steps: steps}, ErrIterationLimit
}

func (e *ReactExecutor) callTool(ctx context.Context, name, input string) (string, error) {
	tool, ok := e.byName[name]
	if !ok {
		return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, e.toolNames()), nil
	}

	ctx, span := tracing.StartSpan(ctx, "tool."+name, attribute.String("tool.input", input))
	start := time.Now()
	result, err := tool.Call(ctx, input)
	metrics.RecordTool(name, err, time.Since(start))
	tracing.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", name, err)
	}
	return string(b), nil
}

func (e *ReactExecutor) toolNames() string {
	names := make([]string, len(e.tools))
	for i, t := range e.tools {
		names[i] = t.Name()
	}
	return strings.Join(names, ", ")
}

func (e *ReactExecutor) render(instructions, question, scratchpad string) string {
	var tools strings.Builder
	for i, t := range e.tools {
		if i > 0 {
			tools.WriteByte('\n')
		}
		fmt.Fprintf(&tools, "%s: %s", t.Name(), t.Description())
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\nYou have access to the following tools:\n")
	b.WriteString(tools.String())
	b.WriteString(`

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [`)
	b.WriteString(e.toolNames())
	b.WriteString(`]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!

Question: `)
	b.WriteString(question)
	b.WriteString("\nThought:")
	b.WriteString(scratchpad)
	return b.String()
}

// parseReact splits model output into either a tool action or a final answer.
func parseReact(text string) (action, input, answer string, err error) {
	hasFinal := strings.Contains(text, finalAnswerMarker)
	m := actionPattern.FindStringSubmatch(text)

	switch {
	case m != nil && hasFinal:
		return "", "", "", fmt.Errorf("%w: both a final answer and a parse-able action were returned", ErrMalformedOutput)
	case m != nil:
		action = strings.TrimSpace(m[1])
		if action == "" {
			return "", "", "", fmt.Errorf("%w: empty 'Action:'", ErrMalformedOutput)
		}
		input = m[2]
		if i := strings.Index(input, "\nObservation"); i >= 0 {
			input = input[:i]
		}
		input = strings.Trim(strings.TrimSpace(input), `"`)
		return action, input, "", nil
	case hasFinal:
		idx := strings.LastIndex(text, finalAnswerMarker)
		return "", "", strings.TrimSpace(text[idx+len(finalAnswerMarker):]), nil
	}

	if !actionOnlyPattern.MatchString(text) {
		return "", "", "", fmt.Errorf("%w: missing 'Action:' after 'Thought:'", ErrMalformedOutput)
	}
	return "", "", "", fmt.Errorf("%w: missing 'Action Input:' after 'Action:'", ErrMalformedOutput)
}
