package format

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestValidationPaths(t *testing.T) {
	cases := []struct {
		name   string
		format Name
		body   string
		path   string
	}{
		{"missing model", Anthropic, `{"messages":[{"role":"user","content":"hi"}],"max_tokens":10}`, "model"},
		{"missing max_tokens", Anthropic, `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, "max_tokens"},
		{"bad role", Anthropic, `{"model":"m","max_tokens":1,"messages":[{"role":"bot","content":"x"}]}`, "messages[0].role"},
		{"empty messages", Chat, `{"model":"m","messages":[]}`, "messages"},
		{"tool message without id", Chat, `{"model":"m","messages":[{"role":"tool","content":"x"}]}`, "messages[0].tool_call_id"},
		{"missing input", Responses, `{"model":"m"}`, "input"},
		{"unnamed tool", Responses, `{"model":"m","input":"hi","tools":[{"type":"function"}]}`, "tools[0].name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRequest(tc.format, []byte(tc.body))
			require.Error(t, err)
			ve, ok := err.(*ValidationError)
			require.True(t, ok, "expected ValidationError, got %T", err)
			assert.Equal(t, tc.path, ve.Path)
		})
	}
}

func TestParseRequestValid(t *testing.T) {
	parsed, err := ParseRequest(Chat, []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Hello"}],"max_completion_tokens":100}`))
	require.NoError(t, err)
	req := parsed.(*ChatCompletionRequest)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, int64(100), req.EffectiveMaxTokens())
}

func TestUnknownFieldsRoundTrip(t *testing.T) {
	in := []byte(`{"model":"m","max_tokens":5,"messages":[{"role":"user","content":"hi"}],"metadata":{"user_id":"u-1"},"top_k":40}`)
	var req CreateMessageRequest
	require.NoError(t, json.Unmarshal(in, &req))
	require.Contains(t, req.Extra, "metadata")
	require.Contains(t, req.Extra, "top_k")

	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"u-1"}`, string(json.RawMessage(mustGet(t, out, "metadata"))))
	assert.Equal(t, "40", string(mustGet(t, out, "top_k")))
	assert.Equal(t, `"m"`, string(mustGet(t, out, "model")))
}

func TestContentBlockExtraPreserved(t *testing.T) {
	in := []byte(`{"type":"text","text":"hello","cache_control":{"type":"ephemeral"}}`)
	var b ContentBlock
	require.NoError(t, json.Unmarshal(in, &b))
	assert.Equal(t, BlockText, b.Type)
	require.Contains(t, b.Extra, "cache_control")

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ephemeral"}`, string(mustGet(t, out, "cache_control")))
}

func TestMessageContentUnion(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &c))
	assert.True(t, c.IsText())
	assert.Equal(t, "plain", c.PlainText())
	blocks := c.AsBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, BlockText, blocks[0].Type)

	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"a"},{"type":"tool_use","id":"t1","name":"f","input":{}}]`), &c))
	assert.False(t, c.IsText())
	assert.Equal(t, "a", c.PlainText())
	assert.Len(t, c.AsBlocks(), 2)
}

func TestStopSequenceOrderPreserved(t *testing.T) {
	in := []byte(`{"model":"m","max_tokens":5,"messages":[{"role":"user","content":"hi"}],"stop_sequences":["zzz","aaa","mmm"]}`)
	var req CreateMessageRequest
	require.NoError(t, json.Unmarshal(in, &req))
	assert.Equal(t, []string{"zzz", "aaa", "mmm"}, req.StopSequences)
}

func TestUsageConversions(t *testing.T) {
	chat := ChatUsageFromAnthropic(AnthropicUsage{InputTokens: 5, OutputTokens: 2})
	require.NotNil(t, chat)
	assert.Equal(t, int64(5), chat.PromptTokens)
	assert.Equal(t, int64(2), chat.CompletionTokens)
	assert.Equal(t, int64(7), chat.TotalTokens)

	back := AnthropicUsageFromChat(chat)
	assert.Equal(t, int64(5), back.InputTokens)
	assert.Equal(t, int64(2), back.OutputTokens)
}

func mustGet(t *testing.T, data []byte, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	v, ok := m[key]
	require.True(t, ok, "missing key %q in %s", key, data)
	return v
}
