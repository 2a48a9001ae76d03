package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb/internal/pricing"
)

func TestBuildEnvelopeSuccess(t *testing.T) {
	env := buildEnvelope(meta{requestID: "r1", question: "q"}, succeed("an answer"))

	assert.True(t, env.OK)
	require.NotNil(t, env.Answer)
	assert.Equal(t, "an answer", *env.Answer)
	assert.Nil(t, env.Error)
}

func TestBuildEnvelopeFailure(t *testing.T) {
	env := buildEnvelope(meta{requestID: "r1", question: "q"}, fail(ErrKindDatabase, "unreachable"))

	assert.False(t, env.OK)
	assert.Nil(t, env.Answer)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrKindDatabase, env.Error.Kind)
}

func TestBuildEnvelopeRejectsInconsistentOutcome(t *testing.T) {
	answer := "a"

	// Both arms set.
	both := outcome{answer: &answer, failure: &ErrorDetail{Kind: ErrKindPlanning}}
	env := buildEnvelope(meta{}, both)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrKindInternal, env.Error.Kind)
	assert.Nil(t, env.Answer)

	// Neither arm set.
	env = buildEnvelope(meta{}, outcome{})
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrKindInternal, env.Error.Kind)
}

func TestEnvelopeJSONShape(t *testing.T) {
	usage := pricing.DefaultTable().Account(100, 20, "gpt-4o-mini")
	env := buildEnvelope(meta{
		requestID: "req-1",
		model:     "gpt-4o-mini",
		version:   "v:1.0",
		question:  "List 5 job titles",
		latencyMS: 42,
		usage:     &usage,
	}, succeed("five titles"))

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "req-1", decoded["request_id"])
	assert.Equal(t, "five titles", decoded["answer"])
	assert.Nil(t, decoded["error"], "error must serialize as explicit null")
	assert.Contains(t, decoded, "error")

	tu, ok := decoded["token_usage"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 120, tu["total_tokens"])
}

func TestEnvelopeJSONOmitsRetryAfterWhenZero(t *testing.T) {
	env := buildEnvelope(meta{requestID: "r"}, fail(ErrKindValidation, "bad input"))

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "retry_after_ms")
}
