package models

// Severity grades a guardrail finding
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// GuardrailDecision is the outcome of a single guardrail check.
// A decision with Allowed=false must stop the request before the model call.
type GuardrailDecision struct {
	Allowed        bool     `json:"allowed"`
	Reason         string   `json:"reason,omitempty"`
	Suggestion     string   `json:"suggestion,omitempty"`
	Severity       Severity `json:"severity,omitempty"`
	SanitizedInput string   `json:"sanitizedInput,omitempty"`
	Warning        string   `json:"warning,omitempty"`
}

// Allow returns a passing decision
func Allow() GuardrailDecision {
	return GuardrailDecision{Allowed: true}
}
