package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputKind identifies the variant carried by a TaskOutput.
type OutputKind string

const (
	KindFindings OutputKind = "findings"
	KindMetrics  OutputKind = "metrics"
)

// Metrics status values.
const (
	MetricsStatusSuccess = "success"
	MetricsStatusError   = "error"
)

// TaskOutput is the result of one analysis task. It is either a list of
// findings or a structured metrics record; both variants report whether they
// encode a failure.
type TaskOutput interface {
	Kind() OutputKind
	IsError() bool
	// Text renders the output for inclusion in a prompt.
	Text() string
	json.Marshaler

	isTaskOutput()
}

// ListFindings is an ordered list of short findings.
type ListFindings struct {
	Items  []string
	Failed bool
}

// FindingsError builds a single-entry findings output tagged as an error.
func FindingsError(label string, cause error) ListFindings {
	return ListFindings{
		Items:  []string{errorText(label, cause)},
		Failed: true,
	}
}

func (ListFindings) Kind() OutputKind { return KindFindings }

func (f ListFindings) IsError() bool { return f.Failed }

func (f ListFindings) Text() string { return strings.Join(f.Items, "\n") }

func (f ListFindings) MarshalJSON() ([]byte, error) {
	items := f.Items
	if items == nil {
		items = []string{}
	}
	return json.Marshal(struct {
		Kind  OutputKind `json:"kind"`
		Items []string   `json:"items"`
		Error bool       `json:"error"`
	}{KindFindings, items, f.Failed})
}

func (ListFindings) isTaskOutput() {}

// StructuredMetrics is a key/value analysis result with a status flag.
type StructuredMetrics struct {
	Analysis string
	Status   string
	Data     map[string]any
}

// MetricsError builds a metrics output whose status is "error".
func MetricsError(label string, cause error) StructuredMetrics {
	return StructuredMetrics{
		Analysis: errorText(label, cause),
		Status:   MetricsStatusError,
	}
}

func (StructuredMetrics) Kind() OutputKind { return KindMetrics }

func (m StructuredMetrics) IsError() bool { return m.Status == MetricsStatusError }

// Fields flattens the record into the map used for prompts and persistence.
func (m StructuredMetrics) Fields() map[string]any {
	out := make(map[string]any, len(m.Data)+2)
	for k, v := range m.Data {
		out[k] = v
	}
	out["analysis"] = m.Analysis
	out["status"] = m.Status
	return out
}

// Text renders the record as two-space indented JSON.
func (m StructuredMetrics) Text() string {
	b, err := json.MarshalIndent(m.Fields(), "", "  ")
	if err != nil {
		return m.Analysis
	}
	return string(b)
}

func (m StructuredMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   OutputKind     `json:"kind"`
		Fields map[string]any `json:"fields"`
		Error  bool           `json:"error"`
	}{KindMetrics, m.Fields(), m.IsError()})
}

func (StructuredMetrics) isTaskOutput() {}

func errorText(label string, cause error) string {
	if cause == nil {
		return label + " error: unknown"
	}
	return fmt.Sprintf("%s error: %v", label, cause)
}
