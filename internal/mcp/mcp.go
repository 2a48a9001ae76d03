// Package mcp implements the Model Context Protocol surface for askdb.
//
// It exposes the invocation pipeline as a single MCP tool (sql_agent)
// plus a schema resource, so MCP-compatible AI clients can ask
// natural-language questions against the configured database.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/askdb-ai/askdb/internal/database"
	"github.com/askdb-ai/askdb/internal/pipeline"
)

// Invoker runs one tool invocation through the pipeline.
type Invoker interface {
	Invoke(ctx context.Context, req pipeline.Request) pipeline.Envelope
}

// Server wraps the MCP server with askdb's pipeline and schema access.
type Server struct {
	mcpServer *mcpserver.MCPServer
	invoker   Invoker
	db        database.Querier
	logger    *slog.Logger
}

// New creates and configures an MCP server with the sql_agent tool and
// schema resource registered.
func New(invoker Invoker, db database.Querier, logger *slog.Logger, version string) *Server {
	s := &Server{
		invoker: invoker,
		db:      db,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"askdb",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// askdb://schema — tables and columns of the target database.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"askdb://schema",
			"Database Schema",
			mcplib.WithResourceDescription("Tables and columns of the queryable database"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSchema,
	)
}

func (s *Server) registerTools() {
	// sql_agent — answer a natural-language question with SQL.
	s.mcpServer.AddTool(
		mcplib.NewTool("sql_agent",
			mcplib.WithDescription("Answer a natural-language question by planning and executing read-only SQL against the configured database"),
			mcplib.WithString("question", mcplib.Description("Natural language question"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum number of result rows the agent should request")),
			mcplib.WithNumber("rate_limit", mcplib.Description("Max requests per minute for this client")),
			mcplib.WithBoolean("stream", mcplib.Description("Include the agent's step trace in the response")),
		),
		s.handleSQLAgent,
	)
}

// callerKey buckets rate-limit state by MCP session, falling back to the
// shared default key when the transport carries no session identity.
func callerKey(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		if id := session.SessionID(); id != "" {
			return id
		}
	}
	return pipeline.DefaultKey
}

func (s *Server) handleSQLAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := request.GetArguments()

	req := pipeline.Request{
		Question:  request.GetString("question", ""),
		CallerKey: callerKey(ctx),
		Stream:    request.GetBool("stream", false),
	}
	if n, ok := intArg(args, "limit"); ok {
		req.Limit = &n
	}
	if n, ok := intArg(args, "rate_limit"); ok {
		req.RateLimit = &n
	}

	// The envelope is the canonical outcome signal for success and
	// failure alike; IsError is reserved for results the envelope cannot
	// express.
	env := s.invoker.Invoke(ctx, req)

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal response: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleSchema(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	names, err := s.db.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list tables: %w", err)
	}

	tables, err := s.db.DescribeTables(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("mcp: describe tables: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"dialect": s.db.Dialect(),
		"tables":  schemaJSON(tables),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal schema: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "askdb://schema",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

type columnJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type tableJSON struct {
	Name    string       `json:"name"`
	Columns []columnJSON `json:"columns"`
}

func schemaJSON(tables []database.Table) []tableJSON {
	out := make([]tableJSON, 0, len(tables))
	for _, t := range tables {
		tj := tableJSON{Name: t.Name}
		for _, c := range t.Columns {
			tj.Columns = append(tj.Columns, columnJSON{Name: c.Name, Type: c.Type, Nullable: c.Nullable})
		}
		out = append(out, tj)
	}
	return out
}

// intArg reads an optional integer argument, reporting whether the
// caller supplied it. JSON numbers arrive as float64.
func intArg(args map[string]any, name string) (int, bool) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
