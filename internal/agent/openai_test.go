package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb/internal/database"
	"github.com/askdb-ai/askdb/internal/testutil"
)

// scriptedServer serves canned chat-completion responses in order. Once
// the script is exhausted it keeps repeating the last response.
func scriptedServer(t *testing.T, responses []string) *httptest.Server {
	t.Helper()
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := responses[i]
		if i < len(responses)-1 {
			i++
		}
		_, _ = w.Write([]byte(resp))
	}))
}

// completionWithToolCall builds a chat completion response asking for one
// tool invocation.
func completionWithToolCall(tool, args string) string {
	body := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      tool,
						"arguments": args,
					},
				}},
			},
			"finish_reason": "tool_calls",
		}},
		"usage": map[string]any{
			"prompt_tokens":     50,
			"completion_tokens": 10,
			"total_tokens":      60,
		},
	}
	out, _ := json.Marshal(body)
	return string(out)
}

// completionWithAnswer builds a final-answer chat completion response.
func completionWithAnswer(text string) string {
	body := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": text,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 20,
			"total_tokens":      120,
		},
	}
	out, _ := json.Marshal(body)
	return string(out)
}

// newAgentDB opens an in-memory database with one seeded table.
func newAgentDB(t *testing.T) database.Querier {
	t.Helper()
	db, err := database.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.DB().Exec(`
		CREATE TABLE job_titles (id INTEGER PRIMARY KEY, title TEXT NOT NULL);
		INSERT INTO job_titles (id, title) VALUES
			(1, 'Engineer'), (2, 'Designer'), (3, 'Analyst'),
			(4, 'Manager'), (5, 'Director');`)
	require.NoError(t, err)
	return db
}

func newTestAgent(t *testing.T, baseURL string, db database.Querier, opts ...Option) *OpenAIAgent {
	t.Helper()
	opts = append([]Option{WithBaseURL(baseURL)}, opts...)
	a, err := NewOpenAI("test-key", "gpt-4o-mini", db, testutil.TestLogger(), opts...)
	require.NoError(t, err)
	return a
}

func TestOpenAIAgentAnswersAfterToolCalls(t *testing.T) {
	srv := scriptedServer(t, []string{
		completionWithToolCall("list_tables", `{}`),
		completionWithToolCall("describe_tables", `{"tables":["job_titles"]}`),
		completionWithToolCall("run_query", `{"sql":"SELECT title FROM job_titles LIMIT 5"}`),
		completionWithAnswer("The five job titles are Engineer, Designer, Analyst, Manager and Director."),
	})
	defer srv.Close()

	a := newTestAgent(t, srv.URL, newAgentDB(t))

	res, err := a.Ask(context.Background(), "List 5 job titles", 5)
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "Engineer")

	// Three tool-call turns at 50/10 plus the final turn at 100/20.
	assert.Equal(t, 250, res.PromptTokens)
	assert.Equal(t, 50, res.CompletionTokens)

	// action+step per tool call, then finish.
	require.Len(t, res.Steps, 7)
	assert.Equal(t, "action", res.Steps[0].Type)
	assert.Equal(t, "list_tables", res.Steps[0].Tool)
	assert.Equal(t, "finish", res.Steps[6].Type)
}

func TestOpenAIAgentProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	a := newTestAgent(t, srv.URL, newAgentDB(t))

	res, err := a.Ask(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, ErrProvider)
	require.NotNil(t, res)
	assert.Zero(t, res.PromptTokens)
}

func TestOpenAIAgentPlanningErrorWhenTurnsExhausted(t *testing.T) {
	// The model keeps asking for list_tables and never answers.
	srv := scriptedServer(t, []string{
		completionWithToolCall("list_tables", `{}`),
	})
	defer srv.Close()

	a := newTestAgent(t, srv.URL, newAgentDB(t), WithMaxTurns(3))

	res, err := a.Ask(context.Background(), "unanswerable", 0)
	assert.ErrorIs(t, err, ErrPlanning)

	// Tokens consumed before the failure are still reported.
	assert.Equal(t, 150, res.PromptTokens)
	assert.Equal(t, 30, res.CompletionTokens)
}

func TestOpenAIAgentDatabaseErrorWhenQueriesKeepFailing(t *testing.T) {
	srv := scriptedServer(t, []string{
		completionWithToolCall("run_query", `{"sql":"SELECT nope FROM nowhere"}`),
	})
	defer srv.Close()

	a := newTestAgent(t, srv.URL, newAgentDB(t), WithMaxTurns(2))

	_, err := a.Ask(context.Background(), "bad question", 0)
	assert.ErrorIs(t, err, ErrDatabase)
}

func TestOpenAIAgentRejectsWriteQueries(t *testing.T) {
	// A DML attempt is fed back as an error, the model then answers.
	srv := scriptedServer(t, []string{
		completionWithToolCall("run_query", `{"sql":"DELETE FROM job_titles"}`),
		completionWithAnswer("I cannot modify the database."),
	})
	defer srv.Close()

	db := newAgentDB(t)
	a := newTestAgent(t, srv.URL, db)

	res, err := a.Ask(context.Background(), "delete everything", 0)
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "cannot")

	// The table must be intact.
	rows, err := db.Query(context.Background(), "SELECT count(*) FROM job_titles", 0)
	require.NoError(t, err)
	assert.Equal(t, "5", rows.Values[0][0])
}

func TestNewOpenAIValidation(t *testing.T) {
	db := newAgentDB(t)

	_, err := NewOpenAI("", "gpt-4o-mini", db, nil)
	assert.Error(t, err)

	_, err = NewOpenAI("key", "", db, nil)
	assert.Error(t, err)

	_, err = NewOpenAI("key", "gpt-4o-mini", nil, nil)
	assert.Error(t, err)
}
