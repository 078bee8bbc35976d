package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/sse"
)

// runStream feeds each payload through Next and then Finish, collecting the
// emitted frames.
func runStream(t *testing.T, conv StreamConverter, payloads []string) []sse.Event {
	t.Helper()
	var events []sse.Event
	for _, p := range payloads {
		out, err := conv.Next([]byte(p))
		require.NoError(t, err)
		events = append(events, out...)
	}
	out, err := conv.Finish()
	require.NoError(t, err)
	return append(events, out...)
}

// decodeChunks parses every non-[DONE] frame as a Chat chunk.
func decodeChunks(t *testing.T, events []sse.Event) []format.ChatCompletionChunk {
	t.Helper()
	var chunks []format.ChatCompletionChunk
	for _, ev := range events {
		if ev.IsDone() {
			continue
		}
		var c format.ChatCompletionChunk
		require.NoError(t, json.Unmarshal(ev.Data, &c))
		chunks = append(chunks, c)
	}
	return chunks
}

func TestAnthropicToChatStreamText(t *testing.T) {
	conv, err := NewStreamConverter(format.Anthropic, format.Chat,
		&format.ChatCompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	events := runStream(t, conv, []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[],"usage":{"input_tokens":3,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"he"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"llo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	})

	require.True(t, events[len(events)-1].IsDone())
	chunks := decodeChunks(t, events)
	require.Len(t, chunks, 4)

	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "he", *chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "llo", *chunks[2].Choices[0].Delta.Content)

	final := chunks[3]
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "stop", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, int64(3), final.Usage.PromptTokens)
	assert.Equal(t, int64(2), final.Usage.CompletionTokens)
	assert.Equal(t, int64(5), final.Usage.TotalTokens)

	// Exactly one chunk carries usage.
	withUsage := 0
	for _, c := range chunks {
		if c.Usage != nil {
			withUsage++
		}
	}
	assert.Equal(t, 1, withUsage)
}

func TestAnthropicToChatThinkingBufferedWithSignature(t *testing.T) {
	conv, err := NewStreamConverter(format.Anthropic, format.Chat,
		&format.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)

	events := runStream(t, conv, []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":1,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"step "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"one"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sg9"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_stop"}`,
	})
	chunks := decodeChunks(t, events)
	require.Len(t, chunks, 3)
	// Thinking is withheld until the block stops so the XML run carries the
	// complete signature.
	assert.Equal(t, `<thinking signature="sg9">step one</thinking>`,
		*chunks[1].Choices[0].Delta.Content)
}

// A Responses upstream that streams arguments before the tool name: the
// name must be inferred from the declared request tools.
func TestResponsesToChatToolStream(t *testing.T) {
	clientReq := &format.ChatCompletionRequest{
		Model: "gpt-4o",
		Tools: []format.ChatTool{
			{Type: "function", Function: format.ChatFunction{
				Name:       "get_weather",
				Parameters: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}}}`),
			}},
			{Type: "function", Function: format.ChatFunction{
				Name:       "get_forecast",
				Parameters: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"},"days":{"type":"integer"}}}`),
			}},
		},
	}
	conv, err := NewStreamConverter(format.Responses, format.Chat, clientReq)
	require.NoError(t, err)

	events := runStream(t, conv, []string{
		`{"type":"response.created","sequence_number":1,"response":{"id":"resp_1","object":"response","status":"in_progress","model":"gpt-4o","output":[]}}`,
		`{"type":"response.output_item.added","sequence_number":2,"output_index":0,"item":{"type":"function_call","id":"item_1","status":"in_progress"}}`,
		`{"type":"response.function_call_arguments.delta","sequence_number":3,"item_id":"item_1","delta":"{\"location\":"}`,
		`{"type":"response.function_call_arguments.delta","sequence_number":4,"item_id":"item_1","delta":"\"SF\"}"}`,
		`{"type":"response.function_call_arguments.done","sequence_number":5,"item_id":"item_1","arguments":"{\"location\":\"SF\"}"}`,
		`{"type":"response.output_item.done","sequence_number":6,"output_index":0,"item":{"type":"function_call","id":"item_1","name":"get_weather","arguments":"{\"location\":\"SF\"}","status":"completed"}}`,
		`{"type":"response.completed","sequence_number":7,"response":{"id":"resp_1","object":"response","status":"completed","model":"gpt-4o","output":[],"usage":{"input_tokens":11,"output_tokens":6,"total_tokens":17}}}`,
	})

	require.True(t, events[len(events)-1].IsDone())
	chunks := decodeChunks(t, events)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)

	var name, args, callID string
	for _, c := range chunks {
		for _, tc := range c.Choices[0].Delta.ToolCalls {
			if tc.Function.Name != "" {
				name = tc.Function.Name
				callID = tc.ID
			}
			args += tc.Function.Arguments
		}
	}
	assert.Equal(t, "get_weather", name)
	assert.NotEmpty(t, callID)
	assert.Equal(t, `{"location":"SF"}`, args)

	final := chunks[len(chunks)-1]
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "tool_calls", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, int64(11), final.Usage.PromptTokens)
	assert.Equal(t, int64(6), final.Usage.CompletionTokens)

	withUsage := 0
	for _, c := range chunks {
		if c.Usage != nil {
			withUsage++
		}
	}
	assert.Equal(t, 1, withUsage)
}

// Chat upstream with inline thinking split across chunk boundaries feeding
// an Anthropic client: the signature_delta must land before the block stops.
func TestChatToAnthropicStreamThinking(t *testing.T) {
	conv, err := NewStreamConverter(format.Chat, format.Anthropic,
		&format.CreateMessageRequest{Model: "m", MaxTokens: 10})
	require.NoError(t, err)

	events := runStream(t, conv, []string{
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"<thinking signa"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"ture=\"sg\">ab</thinking>ok"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`,
	})

	var names []string
	var thinking, signature, text string
	var sigBeforeStop bool
	inThinking := false
	for _, ev := range events {
		v := gjson.ParseBytes(ev.Data)
		typ := v.Get("type").String()
		names = append(names, typ)
		switch typ {
		case "content_block_start":
			inThinking = v.Get("content_block.type").String() == "thinking"
		case "content_block_delta":
			switch v.Get("delta.type").String() {
			case "thinking_delta":
				thinking += v.Get("delta.thinking").String()
			case "signature_delta":
				signature += v.Get("delta.signature").String()
			case "text_delta":
				text += v.Get("delta.text").String()
			}
		case "content_block_stop":
			if inThinking {
				sigBeforeStop = signature != ""
				inThinking = false
			}
		}
	}

	assert.Equal(t, "message_start", names[0])
	assert.Equal(t, "message_stop", names[len(names)-1])
	assert.Equal(t, "ab", thinking)
	assert.Equal(t, "sg", signature)
	assert.True(t, sigBeforeStop)
	assert.Equal(t, "ok", text)

	var stopReason string
	var usage gjson.Result
	for _, ev := range events {
		v := gjson.ParseBytes(ev.Data)
		if v.Get("type").String() == "message_delta" {
			stopReason = v.Get("delta.stop_reason").String()
			usage = v.Get("usage")
		}
	}
	assert.Equal(t, "end_turn", stopReason)
	assert.Equal(t, int64(2), usage.Get("input_tokens").Int())
	assert.Equal(t, int64(1), usage.Get("output_tokens").Int())
}

// Every Responses-sink frame carries a strictly increasing, contiguous
// sequence_number starting at 1.
func TestResponsesSinkSequenceNumbers(t *testing.T) {
	conv, err := NewStreamConverter(format.Anthropic, format.Responses,
		&format.ResponseRequest{Model: "m"})
	require.NoError(t, err)

	events := runStream(t, conv, []string{
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":2,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}`,
		`{"type":"message_stop"}`,
	})
	require.NotEmpty(t, events)

	assert.Equal(t, "response.created", gjson.GetBytes(events[0].Data, "type").String())
	last := gjson.ParseBytes(events[len(events)-1].Data)
	assert.Equal(t, "response.completed", last.Get("type").String())
	assert.Equal(t, int64(2), last.Get("response.usage.input_tokens").Int())
	assert.Equal(t, int64(1), last.Get("response.usage.output_tokens").Int())

	for i, ev := range events {
		seq := gjson.GetBytes(ev.Data, "sequence_number").Int()
		assert.Equal(t, int64(i+1), seq, "event %d: %s", i, ev.Data)
		// Named frames are required for the Responses protocol.
		assert.NotEmpty(t, ev.Name)
	}
}

func TestPassthroughStream(t *testing.T) {
	conv, err := NewStreamConverter(format.Anthropic, format.Anthropic,
		&format.CreateMessageRequest{Model: "m", MaxTokens: 1})
	require.NoError(t, err)

	payload := []byte(`{"type":"message_start","message":{"id":"m1"}}`)
	out, err := conv.Next(payload)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "message_start", out[0].Name)
	assert.Equal(t, payload, out[0].Data)

	fin, err := conv.Finish()
	require.NoError(t, err)
	assert.Empty(t, fin)
}

func TestErrorPayload(t *testing.T) {
	anthropic := []byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	got := ErrorPayload(anthropic)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"error":{"type":"overloaded_error","message":"busy"}}`, string(got))

	openai := []byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	assert.Equal(t, openai, ErrorPayload(openai))

	assert.Nil(t, ErrorPayload([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`)))
}
