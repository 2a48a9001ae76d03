package pipeline

import (
	"github.com/askdb-ai/askdb/internal/agent"
	"github.com/askdb-ai/askdb/internal/pricing"
)

// ErrorKind classifies a failure envelope.
type ErrorKind string

// The closed set of failure kinds. Only ErrKindInternal indicates a bug
// in the pipeline itself; everything else is an expected operating
// condition.
const (
	ErrKindValidation  ErrorKind = "validation_error"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindDatabase    ErrorKind = "database_error"
	ErrKindProvider    ErrorKind = "llm_provider_error"
	ErrKindPlanning    ErrorKind = "planning_error"
	ErrKindInternal    ErrorKind = "internal_error"
)

// ErrorDetail describes a failure in the response envelope.
type ErrorDetail struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	RetryAfterMS int64     `json:"retry_after_ms,omitempty"`
}

// Envelope is the single outward-facing result shape. Every outcome —
// success or failure — is one of these; ok and error.kind are the
// canonical signal, never the transport status. Exactly one of answer
// and error is non-null.
type Envelope struct {
	OK             bool                `json:"ok"`
	RequestID      string              `json:"request_id"`
	Model          string              `json:"model"`
	LatencyMS      int64               `json:"latency_ms"`
	Version        string              `json:"version"`
	Question       string              `json:"question"`
	Answer         *string             `json:"answer"`
	TokenUsage     *pricing.TokenUsage `json:"token_usage,omitempty"`
	StreamedEvents []agent.StepEvent   `json:"streamed_events,omitempty"`
	Error          *ErrorDetail        `json:"error"`
}

// outcome is a tagged union: a terminal result is either an answer or a
// failure, never both and never neither. Keeping the two arms in one
// type funnels every exit path through buildEnvelope, the only place the
// return shape is fixed.
type outcome struct {
	answer  *string
	failure *ErrorDetail
}

func succeed(answer string) outcome {
	return outcome{answer: &answer}
}

func fail(kind ErrorKind, message string) outcome {
	return outcome{failure: &ErrorDetail{Kind: kind, Message: message}}
}

// meta carries the fields common to every envelope.
type meta struct {
	requestID string
	model     string
	version   string
	question  string
	latencyMS int64
	usage     *pricing.TokenUsage
	events    []agent.StepEvent
}

// buildEnvelope enforces the answer/error exclusivity invariant at
// construction time. A violation is a pipeline defect and degrades to an
// internal_error envelope rather than escaping unshaped.
func buildEnvelope(m meta, out outcome) Envelope {
	if (out.answer == nil) == (out.failure == nil) {
		out = outcome{failure: &ErrorDetail{
			Kind:    ErrKindInternal,
			Message: "inconsistent envelope construction",
		}}
	}

	return Envelope{
		OK:             out.failure == nil,
		RequestID:      m.requestID,
		Model:          m.model,
		LatencyMS:      m.latencyMS,
		Version:        m.version,
		Question:       m.question,
		Answer:         out.answer,
		TokenUsage:     m.usage,
		StreamedEvents: m.events,
		Error:          out.failure,
	}
}
