// Package agent plans and executes SQL for a natural-language question.
//
// The Agent interface is the capability contract consumed by the
// invocation pipeline: an implementation inspects the target database's
// schema, runs read-only queries, and produces a natural-language answer
// plus the token counts the underlying model consumed. The OSS
// distribution ships an OpenAI tool-calling implementation (OpenAIAgent).
package agent

import (
	"context"
	"errors"
)

// Classification of terminal agent failures. The pipeline maps these onto
// its error taxonomy with errors.Is; implementations must wrap one of
// them in every error they return.
var (
	// ErrDatabase: the target database is unreachable or schema
	// introspection failed.
	ErrDatabase = errors.New("agent: database failure")

	// ErrProvider: the language-model provider errored, timed out, or
	// exhausted quota.
	ErrProvider = errors.New("agent: provider failure")

	// ErrPlanning: the question could not be mapped to an executable
	// plan within the agent's internal repair budget.
	ErrPlanning = errors.New("agent: planning failure")
)

// StepEvent is one entry in the agent's step trace, reported back to
// callers that asked to observe progress.
type StepEvent struct {
	Type    string `json:"type"` // "action", "step", or "finish"
	Tool    string `json:"tool,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the outcome of one Ask invocation. Token counts accumulate
// across every model call the agent made, so a Result returned alongside
// an error still carries whatever was consumed before the failure.
type Result struct {
	Answer           string
	PromptTokens     int
	CompletionTokens int
	Steps            []StepEvent
}

// Agent answers natural-language questions against a relational database.
//
// Implementations must be read-only with respect to the target database,
// must respect rowLimit (> 0) as an upper bound on rows requested, and
// must classify every failure by wrapping ErrDatabase, ErrProvider, or
// ErrPlanning. Retry and query repair are the agent's own business; the
// caller sees only the final outcome.
type Agent interface {
	Ask(ctx context.Context, question string, rowLimit int) (*Result, error)
}
