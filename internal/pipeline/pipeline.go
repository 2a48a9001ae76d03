// Package pipeline orchestrates one tool invocation: validate the
// request, check the rate limiter, drive the SQL agent, account token
// usage, and normalize every outcome into a single response envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askdb-ai/askdb/internal/agent"
	"github.com/askdb-ai/askdb/internal/pricing"
	"github.com/askdb-ai/askdb/internal/ratelimit"
)

// DefaultKey buckets rate-limit state when no caller identity is
// available.
const DefaultKey = "global"

// Request is one validated-at-the-boundary tool invocation. Optional
// numeric fields are pointers: nil means absent, a supplied non-positive
// value is a validation error.
type Request struct {
	Question  string
	Limit     *int // row bound the agent should request from the database
	RateLimit *int // self-imposed ceiling, requests per minute
	CallerKey string
	Stream    bool // include the agent's step trace in the envelope
}

// Config wires a Pipeline.
type Config struct {
	Agent          agent.Agent
	Limiter        ratelimit.Limiter
	Prices         pricing.Table
	Model          string
	Version        string
	DefaultCeiling int // requests/minute applied when the caller supplies none
	Logger         *slog.Logger
}

// Pipeline executes tool invocations. Safe for concurrent use; every
// invocation is independent apart from the limiter's shared per-key
// windows.
type Pipeline struct {
	agent          agent.Agent
	limiter        ratelimit.Limiter
	prices         pricing.Table
	model          string
	version        string
	defaultCeiling int
	logger         *slog.Logger
	metrics        *metrics
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		agent:          cfg.Agent,
		limiter:        cfg.Limiter,
		prices:         cfg.Prices,
		model:          cfg.Model,
		version:        cfg.Version,
		defaultCeiling: cfg.DefaultCeiling,
		logger:         logger,
		metrics:        newMetrics(),
	}
}

// Invoke runs one request through the pipeline and always returns a
// well-formed envelope; no failure escapes without one. The pipeline
// performs no retries — query repair is the agent's business.
func (p *Pipeline) Invoke(ctx context.Context, req Request) Envelope {
	m := meta{
		requestID: uuid.NewString(),
		model:     p.model,
		version:   p.version,
		question:  req.Question,
	}
	start := time.Now()
	finish := func(out outcome) Envelope {
		m.latencyMS = time.Since(start).Milliseconds()
		env := buildEnvelope(m, out)
		p.metrics.record(ctx, env)
		return env
	}

	// Received -> Validated.
	if err := validate(req); err != nil {
		return finish(fail(ErrKindValidation, err.Error()))
	}

	// Validated -> RateChecked. The limiter charges on admission, not
	// completion: a later cancellation does not roll the count back.
	key := req.CallerKey
	if key == "" {
		key = DefaultKey
	}
	ceiling := p.defaultCeiling
	if req.RateLimit != nil {
		ceiling = *req.RateLimit
	}
	decision, err := p.limiter.Admit(ctx, key, ceiling)
	if err != nil {
		// Limiter malfunction fails open rather than blocking traffic.
		p.logger.Warn("pipeline: limiter error, admitting request",
			"request_id", m.requestID, "error", err)
	} else if !decision.Allowed {
		out := fail(ErrKindRateLimited,
			fmt.Sprintf("rate limit of %d requests/minute exceeded", ceiling))
		out.failure.RetryAfterMS = decision.RetryAfter.Milliseconds()
		return finish(out)
	}

	// RateChecked -> AgentInvoked. The only step expected to block for a
	// non-trivial duration.
	rowLimit := 0
	if req.Limit != nil {
		rowLimit = *req.Limit
	}
	result, askErr := p.agent.Ask(ctx, req.Question, rowLimit)

	// AgentInvoked -> Accounted. Tokens consumed before a failure are
	// still accounted and reported.
	if result != nil && result.PromptTokens+result.CompletionTokens > 0 {
		usage := p.prices.Account(result.PromptTokens, result.CompletionTokens, p.model)
		m.usage = &usage
	}
	if req.Stream && result != nil && len(result.Steps) > 0 {
		m.events = result.Steps
	}

	// Accounted -> Normalized.
	if askErr != nil {
		kind := classify(askErr)
		if kind != ErrKindInternal {
			p.logger.Info("pipeline: agent failure",
				"request_id", m.requestID, "kind", string(kind), "error", askErr)
		} else {
			p.logger.Error("pipeline: unclassified agent failure",
				"request_id", m.requestID, "error", askErr)
		}
		return finish(fail(kind, askErr.Error()))
	}
	if result == nil {
		return finish(fail(ErrKindInternal, "agent returned no result and no error"))
	}
	return finish(succeed(result.Answer))
}

// validate rejects malformed input before any expensive work starts.
func validate(req Request) error {
	if strings.TrimSpace(req.Question) == "" {
		return errors.New("question must not be empty")
	}
	if req.Limit != nil && *req.Limit <= 0 {
		return errors.New("limit must be a positive integer")
	}
	if req.RateLimit != nil && *req.RateLimit <= 0 {
		return errors.New("rate_limit must be a positive integer")
	}
	return nil
}

// classify maps the agent's sentinel errors onto the envelope taxonomy.
// An error the agent failed to classify is a contract violation and
// surfaces as internal.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, agent.ErrDatabase):
		return ErrKindDatabase
	case errors.Is(err, agent.ErrProvider):
		return ErrKindProvider
	case errors.Is(err, agent.ErrPlanning):
		return ErrKindPlanning
	default:
		return ErrKindInternal
	}
}
