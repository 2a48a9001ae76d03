package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/askdb-ai/askdb/internal/database"
)

// OpenAIAgent implements Agent with an OpenAI tool-calling loop. The
// model is given three tools — list tables, describe tables, run a
// read-only query — and iterates until it produces a final answer or the
// turn budget runs out. Failed queries are fed back to the model so it
// can rewrite them.
type OpenAIAgent struct {
	client      oai.Client
	model       string
	temperature float64
	maxTurns    int
	defaultRows int
	db          database.Querier
	logger      *slog.Logger
}

// config holds optional configuration for the agent.
type config struct {
	baseURL     string
	temperature float64
	maxTurns    int
	defaultRows int
}

// Option is a functional option for OpenAIAgent.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTurns bounds the number of model round-trips per question.
func WithMaxTurns(n int) Option {
	return func(c *config) { c.maxTurns = n }
}

// WithDefaultRowLimit sets the row cap applied when the caller supplies
// none.
func WithDefaultRowLimit(n int) Option {
	return func(c *config) { c.defaultRows = n }
}

// NewOpenAI constructs an OpenAI-backed SQL agent over db.
func NewOpenAI(apiKey, model string, db database.Querier, logger *slog.Logger, opts ...Option) (*OpenAIAgent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("agent: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("agent: model must not be empty")
	}
	if db == nil {
		return nil, fmt.Errorf("agent: db must not be nil")
	}

	cfg := &config{maxTurns: 15, defaultRows: 10}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAIAgent{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		maxTurns:    cfg.maxTurns,
		defaultRows: cfg.defaultRows,
		db:          db,
		logger:      logger,
	}, nil
}

// systemPrompt instructs the model how to work the database. Adapted per
// dialect and row cap.
func systemPrompt(dialect string, topK int) string {
	return fmt.Sprintf(`You are an agent designed to interact with a %s database.
Given an input question, create a syntactically correct query to run, then
look at the results and return the answer. Unless the user asks for a
specific number of examples, always limit your query to at most %d results.

Never query for all columns of a table; only ask for the relevant columns
given the question. You MUST double check your query before executing it.
If a query fails, rewrite it and try again.

DO NOT issue any DML statements (INSERT, UPDATE, DELETE, DROP etc.).

Always start by listing the tables in the database, then inspect the
schema of the most relevant ones. Do NOT skip this step.`, dialect, topK)
}

// Ask implements Agent.
func (a *OpenAIAgent) Ask(ctx context.Context, question string, rowLimit int) (*Result, error) {
	res := &Result{}

	topK := a.defaultRows
	if rowLimit > 0 {
		topK = rowLimit
	}

	userMsg := fmt.Sprintf("%s\n(Use LIMIT <= %d.)", question, topK)
	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(systemPrompt(a.db.Dialect(), topK)),
		oai.UserMessage(userMsg),
	}

	var lastQueryErr error
	for turn := 0; turn < a.maxTurns; turn++ {
		params := oai.ChatCompletionNewParams{
			Model:    shared.ChatModel(a.model),
			Messages: messages,
			Tools:    toolDefinitions(),
		}
		if a.temperature != 0 {
			params.Temperature = param.NewOpt(a.temperature)
		}

		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return res, fmt.Errorf("%w: chat completion: %v", ErrProvider, err)
		}
		res.PromptTokens += int(resp.Usage.PromptTokens)
		res.CompletionTokens += int(resp.Usage.CompletionTokens)

		if len(resp.Choices) == 0 {
			return res, fmt.Errorf("%w: empty choices in response", ErrProvider)
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			answer := strings.TrimSpace(msg.Content)
			if answer == "" {
				return res, fmt.Errorf("%w: model returned neither answer nor tool call", ErrPlanning)
			}
			res.Answer = answer
			res.Steps = append(res.Steps, StepEvent{Type: "finish", Message: "Done"})
			return res, nil
		}

		// Replay the assistant turn, then answer each tool call.
		messages = append(messages, assistantParam(msg))
		for _, tc := range msg.ToolCalls {
			res.Steps = append(res.Steps, StepEvent{
				Type: "action", Tool: tc.Function.Name,
				Message: "Calling tool: " + tc.Function.Name,
			})

			observation, qErr, err := a.dispatchTool(ctx, tc.Function.Name, tc.Function.Arguments, topK)
			if err != nil {
				return res, err
			}
			if qErr != nil {
				lastQueryErr = qErr
				observation = "Error: " + qErr.Error()
			}
			if a.logger != nil {
				a.logger.Debug("agent: tool call",
					"tool", tc.Function.Name, "failed", qErr != nil)
			}

			messages = append(messages, oai.ToolMessage(observation, tc.ID))
			res.Steps = append(res.Steps, StepEvent{
				Type: "step", Tool: tc.Function.Name,
				Message: "Completed: " + tc.Function.Name,
			})
		}
	}

	if lastQueryErr != nil {
		return res, fmt.Errorf("%w: query kept failing after %d turns: %v", ErrDatabase, a.maxTurns, lastQueryErr)
	}
	return res, fmt.Errorf("%w: no answer after %d turns", ErrPlanning, a.maxTurns)
}

// dispatchTool executes one tool call. The second return value is a
// recoverable query error fed back to the model; the third is a terminal,
// classified failure.
func (a *OpenAIAgent) dispatchTool(ctx context.Context, name, rawArgs string, topK int) (string, error, error) {
	switch name {
	case "list_tables":
		tables, err := a.db.ListTables(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("%w: list tables: %v", ErrDatabase, err)
		}
		if len(tables) == 0 {
			return "(no tables)", nil, nil
		}
		return strings.Join(tables, ", "), nil, nil

	case "describe_tables":
		var args struct {
			Tables []string `json:"tables"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %v", err), nil
		}
		described, err := a.db.DescribeTables(ctx, args.Tables)
		if err != nil {
			return "", nil, fmt.Errorf("%w: describe tables: %v", ErrDatabase, err)
		}
		if len(described) == 0 {
			return "(no matching tables)", nil, nil
		}
		return database.DescribeDDL(described), nil, nil

	case "run_query":
		var args struct {
			SQL string `json:"sql"`
		}
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %v", err), nil
		}
		rows, err := a.db.Query(ctx, args.SQL, topK)
		if err != nil {
			// Fed back for self-repair; a terminal classification happens
			// only when the turn budget runs out.
			return "", err, nil
		}
		if len(rows.Values) == 0 {
			return "(no rows)", nil, nil
		}
		return database.FormatRows(rows), nil, nil

	default:
		return "", fmt.Errorf("unknown tool %q", name), nil
	}
}

// toolDefinitions declares the closed tool set exposed to the model.
func toolDefinitions() []oai.ChatCompletionToolParam {
	return []oai.ChatCompletionToolParam{
		{
			Function: shared.FunctionDefinitionParam{
				Name:        "list_tables",
				Description: param.NewOpt("List the names of all tables in the database."),
				Parameters: shared.FunctionParameters{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
		{
			Function: shared.FunctionDefinitionParam{
				Name:        "describe_tables",
				Description: param.NewOpt("Show the columns and types of the named tables."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"tables": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Table names to describe",
						},
					},
					"required": []string{"tables"},
				},
			},
		},
		{
			Function: shared.FunctionDefinitionParam{
				Name:        "run_query",
				Description: param.NewOpt("Execute a read-only SQL query and return the rows."),
				Parameters: shared.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"sql": map[string]any{
							"type":        "string",
							"description": "A single SELECT statement",
						},
					},
					"required": []string{"sql"},
				},
			},
		},
	}
}

// assistantParam converts a response message into the param shape required
// to replay it in the next request.
func assistantParam(msg oai.ChatCompletionMessage) oai.ChatCompletionMessageParamUnion {
	asst := oai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		asst.Content.OfString = oai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}
